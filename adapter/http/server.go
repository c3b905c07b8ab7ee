// Package http is the reference External API Adapter of spec.md §4.8:
// a concrete implementation of the contract-only component, translating
// the request surface of spec.md §6 into adapter.Engine calls.
package http

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/facebookgo/httpdown"
	"github.com/facebookgo/stats"
	"github.com/julienschmidt/httprouter"

	"github.com/ndcache/filecache/adapter"
	"github.com/ndcache/filecache/cache"
	"github.com/ndcache/filecache/cerrors"
)

// Server holds the configuration for the file cache's REST adapter. Set
// Engine and Addr, then call Run; Run blocks until the listener exits.
type Server struct {
	// Addr is the listen address, e.g. ":8089".
	Addr string

	Engine *adapter.Engine

	// Stats receives a BumpSum("requests", 1, ...) style counter for
	// every handled request. Nil is fine; counts are simply not recorded.
	Stats stats.Client

	server httpdown.Server
}

// Run starts listening and blocks until the server is stopped.
func (s *Server) Run() error {
	log.Println("Starting file cache REST adapter")
	log.Println("Listening on", s.Addr)

	h := httpdown.HTTP{}
	var err error
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    s.Addr,
		Handler: s.addRoutes(),
	})
	if err != nil {
		return err
	}
	return s.server.Wait()
}

// Stop gracefully shuts down the listener, finishing in-flight requests.
func (s *Server) Stop() error {
	return s.server.Stop()
}

func (s *Server) addRoutes() http.Handler {
	// httprouter cannot register static segments beside :typeName, so the
	// POST /object/<action> rows are served through the insert route; a type
	// named after one of those actions cannot be inserted into over HTTP.
	actions := map[string]httprouter.Handle{}
	routes := []struct {
		method  string
		route   string
		handler httprouter.Handle
	}{
		{"POST", "/type/:typeName", s.wrap(s.defineTypeHandler)},
		{"PUT", "/type/:typeName", s.wrap(s.changeTypeHandler)},
		{"DELETE", "/type/:typeName", s.wrap(s.deleteTypeHandler)},
		{"GET", "/type/:typeName", s.wrap(s.describeTypeHandler)},
		{"GET", "/type/:typeName/status", s.wrap(s.typeStatusHandler)},
		{"GET", "/types", s.wrap(s.getTypesHandler)},

		{"POST", "/object/:typeName", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			if h, ok := actions[ps.ByName("typeName")]; ok {
				h(w, r, ps)
				return
			}
			s.wrap(s.insertHandler)(w, r, ps)
		}},
		// pathName addresses an on-disk path, not a routable resource
		// tree, so every object-indexed operation below takes it in the
		// request body or query string rather than the URL path.
		{"POST", "/object/close", s.wrap(s.closeWriteHandler)},
		{"POST", "/object/resize", s.wrap(s.resizeHandler)},
		{"POST", "/object/expire", s.wrap(s.expireHandler)},
		{"POST", "/object/subscribe", s.wrap(s.subscribeHandler)},
		{"POST", "/object/touch", s.wrap(s.touchHandler)},
		{"POST", "/object/copy", s.wrap(s.copyHandler)},
		{"GET", "/object/size", s.wrap(s.objectSizeHandler)},
		{"GET", "/object/filename", s.wrap(s.objectFilenameHandler)},

		{"GET", "/status", s.wrap(s.statusHandler)},
		{"GET", "/version", s.wrap(s.versionHandler)},
	}

	r := httprouter.New()
	for _, route := range routes {
		if a := strings.TrimPrefix(route.route, "/object/"); route.method == "POST" && a != route.route && a != ":typeName" {
			actions[a] = route.handler
			continue
		}
		r.Handle(route.method, route.route, route.handler)
	}
	return r
}

// wrap logs the request and bumps a per-call counter.
func (s *Server) wrap(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		if s.Stats != nil {
			stats.BumpSum(s.Stats, "requests", 1)
		}
		h(w, r, ps)
	}
}

// Version is the value returned by GetVersion.
const Version = "1.0.0"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a *cerrors.Error to an HTTP status and a JSON body
// carrying the wire-stable code, per spec.md §7's propagation policy:
// "the engine never throws through the dispatcher."
func writeError(w http.ResponseWriter, err error) {
	code := cerrors.Code("InternalError")
	status := http.StatusInternalServerError
	if ce, ok := err.(*cerrors.Error); ok {
		code = ce.Code
		status = statusForCode(ce.Code)
	}
	writeJSON(w, status, map[string]string{"error": string(code), "message": err.Error()})
}

func statusForCode(code cerrors.Code) int {
	switch code {
	case cerrors.InvalidParams, cerrors.ArgumentError:
		return http.StatusBadRequest
	case cerrors.ExistsError:
		return http.StatusNotFound
	case cerrors.PermError:
		return http.StatusForbidden
	case cerrors.InsufficientSpace:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func handleFromRequest(r *http.Request) cache.HandleID {
	return cache.HandleID(r.Header.Get("X-Handle-Id"))
}
