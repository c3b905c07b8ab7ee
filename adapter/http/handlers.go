package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/ndcache/filecache/adapter"
	"github.com/ndcache/filecache/cache"
)

func logCopyFailure(destination string, err error) {
	log.Printf("copy to %s failed: %v", destination, err)
}

// defineTypeRequest is the JSON body of POST /type/:typeName.
type defineTypeRequest struct {
	LoWatermark int64 `json:"loWatermark"`
	HiWatermark int64 `json:"hiWatermark"`
	Size        int64 `json:"size"`
	Cost        int64 `json:"cost"`
	Lifetime    int64 `json:"lifetime"`
	DirType     bool  `json:"dirType"`
}

func (s *Server) defineTypeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req defineTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "InvalidParams"})
		return
	}
	err := s.Engine.DefineType(ps.ByName("typeName"), req.LoWatermark, req.HiWatermark, req.Size, req.Cost, req.Lifetime, req.DirType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type changeTypeRequest struct {
	LoWatermark int64 `json:"loWatermark"`
	HiWatermark int64 `json:"hiWatermark"`
	Size        int64 `json:"size"`
	Cost        int64 `json:"cost"`
	Lifetime    int64 `json:"lifetime"`
}

func (s *Server) changeTypeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req changeTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "InvalidParams"})
		return
	}
	err := s.Engine.ChangeType(ps.ByName("typeName"), cache.TypeParams{
		LoWatermark: req.LoWatermark, HiWatermark: req.HiWatermark,
		DefaultSize: req.Size, DefaultCost: int(req.Cost), DefaultLifetime: req.Lifetime,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) deleteTypeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	freed, err := s.Engine.DeleteType(ps.ByName("typeName"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"freedSpace": freed})
}

func (s *Server) describeTypeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	params, err := s.Engine.DescribeType(ps.ByName("typeName"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"loWatermark": params.LoWatermark,
		"hiWatermark": params.HiWatermark,
		"size":        params.DefaultSize,
		"cost":        params.DefaultCost,
		"lifetime":    params.DefaultLifetime,
	})
}

func (s *Server) typeStatusHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	size, numObjs, err := s.Engine.GetCacheTypeStatus(ps.ByName("typeName"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"size": size, "numObjs": numObjs})
}

func (s *Server) getTypesHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string][]string{"types": s.Engine.GetCacheTypes()})
}

type insertRequest struct {
	FileName  string `json:"fileName"`
	Size      int64  `json:"size"`
	Cost      int64  `json:"cost"`
	Lifetime  int64  `json:"lifetime"`
	Subscribe bool   `json:"subscribe"`
}

func (s *Server) insertHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req insertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "InvalidParams"})
		return
	}
	handle := handleFromRequest(r)
	res, err := s.Engine.InsertCacheObject(ps.ByName("typeName"), req.FileName, req.Size, req.Cost, req.Lifetime, req.Subscribe, handle)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pathName": res.Path, "subscribed": res.Subscribed})
}

// closeWriteHandler implements POST /object/close: the caller signals it
// has finished writing the content InsertCacheObject's path pointed at.
// Until this is called the object stays writeOpen and cannot be evicted
// or expired, so every caller that inserts without subscribing must call
// this once its write completes.
func (s *Server) closeWriteHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req pathNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "InvalidParams"})
		return
	}
	if err := s.Engine.CloseWrite(req.PathName); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type resizeRequest struct {
	PathName string `json:"pathName"`
	NewSize  int64  `json:"newSize"`
}

func (s *Server) resizeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "InvalidParams"})
		return
	}
	newSize, err := s.Engine.ResizeCacheObject(req.PathName, req.NewSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"newSize": newSize})
}

type pathNameRequest struct {
	PathName string `json:"pathName"`
}

func (s *Server) expireHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req pathNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "InvalidParams"})
		return
	}
	if err := s.Engine.ExpireCacheObject(req.PathName); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) subscribeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req pathNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "InvalidParams"})
		return
	}
	handle := handleFromRequest(r)
	if handle == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ArgumentError"})
		return
	}
	if err := s.Engine.SubscribeCacheObject(req.PathName, handle); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"subscribed": true})
}

func (s *Server) touchHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req pathNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "InvalidParams"})
		return
	}
	if err := s.Engine.TouchCacheObject(req.PathName); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type copyRequest struct {
	PathName    string `json:"pathName"`
	Destination string `json:"destination"`
	FileName    string `json:"fileName"`
}

func (s *Server) copyHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req copyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "InvalidParams"})
		return
	}
	callerID := r.Header.Get("X-Caller-Id")

	// the async reply races the HTTP response; in a real dispatcher this
	// would resolve a parked request handle instead of writing directly.
	err := s.Engine.CopyCacheObject(context.Background(), req.PathName, req.Destination, req.FileName, callerID,
		func(res adapter.CopyResult) {
			if res.Err != nil {
				logCopyFailure(res.Destination, res.Err)
			}
		})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}

func (s *Server) objectSizeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	size, err := s.Engine.GetCacheObjectSize(r.URL.Query().Get("pathName"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"size": size})
}

func (s *Server) objectFilenameHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name, err := s.Engine.GetCacheObjectFilename(r.URL.Query().Get("pathName"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"fileName": name})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	status := s.Engine.GetCacheStatus()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"numTypes":   status.NumTypes,
		"size":       status.TotalSize,
		"numObjs":    status.NumObjs,
		"availSpace": status.AvailSpace,
	})
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}
