package http

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/ndcache/filecache/adapter"
	"github.com/ndcache/filecache/cache"
)

func newTestServer(t *testing.T) (*httptest.Server, *cache.Set) {
	t.Helper()
	dir, err := ioutil.TempDir("", "filecache-http-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	set, err := cache.NewSet(dir, clock.NewMock())
	require.NoError(t, err)

	eng := adapter.NewEngine(set, nil, nil, "")
	srv := &Server{Engine: eng}
	return httptest.NewServer(srv.addRoutes()), set
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body interface{}) *http.Response {
	t.Helper()
	var r *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	} else {
		r = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestDefineAndDescribeTypeRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, "POST", "/type/videos", defineTypeRequest{
		LoWatermark: 1024, HiWatermark: 4096, Size: 1024,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, ts, "GET", "/type/videos", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, float64(1024), out["loWatermark"])
	require.Equal(t, float64(4096), out["hiWatermark"])
}

func TestDefineTypeDuplicateReturnsExistsError(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	body := defineTypeRequest{LoWatermark: 1024, HiWatermark: 4096, Size: 1024}
	resp := doJSON(t, ts, "POST", "/type/videos", body)
	resp.Body.Close()

	resp = doJSON(t, ts, "POST", "/type/videos", body)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "ExistsError", out["error"])
}

func TestInsertAndQueryObject(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, "POST", "/type/videos", defineTypeRequest{LoWatermark: 1024, HiWatermark: 4096, Size: 1024})
	resp.Body.Close()

	resp = doJSON(t, ts, "POST", "/object/videos", insertRequest{FileName: "clip.mp4", Size: 1024})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var inserted map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&inserted))
	resp.Body.Close()

	pathName, _ := inserted["pathName"].(string)
	require.NotEmpty(t, pathName)

	resp = doJSON(t, ts, "GET", "/object/size?pathName="+url.QueryEscape(pathName), nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sizeOut map[string]float64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sizeOut))
	require.Equal(t, float64(1024), sizeOut["size"])
}

func TestCloseWriteMakesObjectEvictable(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, "POST", "/type/videos", defineTypeRequest{LoWatermark: 512, HiWatermark: 1024, Size: 1024})
	resp.Body.Close()

	resp = doJSON(t, ts, "POST", "/object/videos", insertRequest{FileName: "a.mp4", Size: 1024})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var inserted map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&inserted))
	resp.Body.Close()
	pathName, _ := inserted["pathName"].(string)

	// before close, the object is writeOpen and a second insert that
	// would need to evict it must fail with InsufficientSpace.
	resp = doJSON(t, ts, "POST", "/object/videos", insertRequest{FileName: "b.mp4", Size: 1024})
	require.Equal(t, http.StatusInsufficientStorage, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, ts, "POST", "/object/close", pathNameRequest{PathName: pathName})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// now that the first object is closed and evictable, the same insert
	// must succeed by evicting it.
	resp = doJSON(t, ts, "POST", "/object/videos", insertRequest{FileName: "b.mp4", Size: 1024})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2 := doJSON(t, ts, "GET", "/object/size?pathName="+url.QueryEscape(pathName), nil)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusNotFound, resp2.StatusCode, "evicted object must no longer be describable")
}

func TestResizeObject(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, ts, "POST", "/type/videos", defineTypeRequest{LoWatermark: 1024, HiWatermark: 8192, Size: 1024})
	resp.Body.Close()

	resp = doJSON(t, ts, "POST", "/object/videos", insertRequest{FileName: "clip.mp4", Size: 1024})
	var inserted map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&inserted))
	resp.Body.Close()
	pathName, _ := inserted["pathName"].(string)

	resp = doJSON(t, ts, "POST", "/object/resize", resizeRequest{PathName: pathName, NewSize: 2048})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]float64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, float64(2048), out["newSize"])
}
