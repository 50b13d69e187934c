package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"imgopt/internal/cache"
	"imgopt/internal/config"
	"imgopt/internal/imageformat"
	"imgopt/internal/optimizer"
	"imgopt/internal/origin"
)

type stubProcessor struct {
	res *optimizer.Result
	err error
	got optimizer.Request
}

func (s *stubProcessor) Process(_ context.Context, req optimizer.Request) (*optimizer.Result, error) {
	s.got = req
	return s.res, s.err
}

func newTestHandlers(p ImageProcessor) http.Handler {
	return New(&config.Config{}, zap.NewNop(), p).Router()
}

func TestHandleImage_Success(t *testing.T) {
	p := &stubProcessor{res: &optimizer.Result{
		Data:   []byte("webp-bytes"),
		Format: optimizer.FormatWebP,
		Key:    "abc",
		Tier:   optimizer.TierDisk,
	}}
	h := newTestHandlers(p)

	req := httptest.NewRequest(http.MethodGet, "/image?src=https%3A%2F%2Fexample.com%2Fa.png&w=300", nil)
	req.Header.Set("Accept", "image/webp")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "webp-bytes", rec.Body.String())
	assert.Equal(t, "image/webp", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=31536000, immutable", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "10", rec.Header().Get("Content-Length"))
	assert.Equal(t, `"abc"`, rec.Header().Get("ETag"))
	assert.Equal(t, "disk", rec.Header().Get("X-Cache"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	assert.Equal(t, "https://example.com/a.png", p.got.Query.Get("src"))
	assert.Equal(t, "300", p.got.Query.Get("w"))
	assert.Equal(t, "image/webp", p.got.Accept)
}

func TestHandleImage_HeadAndConditional(t *testing.T) {
	p := &stubProcessor{res: &optimizer.Result{Data: []byte("jpeg"), Format: optimizer.FormatJPEG, Key: "k1", Tier: optimizer.TierMemory}}
	h := newTestHandlers(p)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/image?src=x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "4", rec.Header().Get("Content-Length"))

	req := httptest.NewRequest(http.MethodGet, "/image?src=x", nil)
	req.Header.Set("If-None-Match", `"k1"`)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestHandleImage_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "bad request",
			err:        &optimizer.Error{Kind: optimizer.KindBadRequest, Message: "Missing src parameter"},
			wantStatus: http.StatusBadRequest,
			wantBody:   "Missing src parameter",
		},
		{
			name:       "upstream",
			err:        &optimizer.Error{Kind: optimizer.KindUpstreamFetch, Message: "Failed to fetch image: Not Found"},
			wantStatus: http.StatusBadRequest,
			wantBody:   "Failed to fetch image: Not Found",
		},
		{
			name:       "transform",
			err:        &optimizer.Error{Kind: optimizer.KindTransform, Message: "Error optimizing image", Err: errors.New("vips: corrupt")},
			wantStatus: http.StatusInternalServerError,
			wantBody:   "Error optimizing image",
		},
		{
			name:       "unexpected",
			err:        errors.New("secret internal detail"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   "Error optimizing image",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandlers(&stubProcessor{err: tc.err})

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/image?src=x", nil))

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantBody, rec.Body.String())
			assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
			assert.NotEqual(t, optimizer.CacheControl, rec.Header().Get("Cache-Control"))
		})
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	h := newTestHandlers(&stubProcessor{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSMiddleware(t *testing.T) {
	h := New(&config.Config{AllowedOrigin: "https://app.example.com"}, zap.NewNop(), &stubProcessor{}).Router()

	req := httptest.NewRequest(http.MethodOptions, "/image", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestExtractIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	assert.Equal(t, "10.1.2.3", extractIP(r))

	r.RemoteAddr = "10.1.2.3"
	assert.Equal(t, "10.1.2.3", extractIP(r))

	r.RemoteAddr = ""
	assert.Equal(t, "unknown", extractIP(r))
}

type countingTransformer struct {
	calls atomic.Int32
}

func (c *countingTransformer) Transform(_ context.Context, data []byte, opts imageformat.Options) ([]byte, error) {
	c.calls.Add(1)
	return []byte(fmt.Sprintf("%s:%d:%d:%s", data, opts.Width, opts.Quality, opts.Format)), nil
}

// End to end through the real caches and fetcher, with the pixel work faked.
func TestImageEndpoint_EndToEnd(t *testing.T) {
	var originHits atomic.Int32
	originSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		originHits.Add(1)
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("png"))
	}))
	defer originSrv.Close()

	cacheDir := t.TempDir()
	disk, err := cache.NewFileCache(cacheDir)
	require.NoError(t, err)
	memory := cache.NewMemoryCache(10, time.Minute)
	transformer := &countingTransformer{}

	newServer := func(memory cache.Cache) *httptest.Server {
		pipeline := optimizer.New(memory, disk, origin.NewHTTPFetcher(time.Second, 1<<20), transformer,
			optimizer.Options{Limits: optimizer.DefaultLimits(), Coalesce: true}, zap.NewNop())
		return httptest.NewServer(New(&config.Config{}, zap.NewNop(), pipeline).Router())
	}
	srv := newServer(memory)
	defer srv.Close()

	getFrom := func(srv *httptest.Server, query url.Values, accept string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/image?"+query.Encode(), nil)
		require.NoError(t, err)
		if accept != "" {
			req.Header.Set("Accept", accept)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}
	get := func(query url.Values, accept string) *http.Response {
		return getFrom(srv, query, accept)
	}
	body := func(resp *http.Response) string {
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(b)
	}

	src := originSrv.URL + "/cat.png"

	resp := get(url.Values{"src": {src}, "w": {"3000"}, "q": {"150"}}, "image/avif,image/webp")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/avif", resp.Header.Get("Content-Type"))
	assert.Equal(t, "miss", resp.Header.Get("X-Cache"))
	assert.Equal(t, "png:2000:100:avif", body(resp))

	// clamped equivalent is served from memory
	resp = get(url.Values{"src": {src}, "w": {"2000"}, "q": {"100"}}, "image/avif")
	assert.Equal(t, "memory", resp.Header.Get("X-Cache"))
	assert.Equal(t, "png:2000:100:avif", body(resp))

	// variant persisted as {key}.{format}
	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Regexp(t, `^[0-9a-f]{64}\.avif$`, entries[0].Name())

	// a restart with an empty memory tier is served from disk
	restarted := newServer(cache.NewMemoryCache(10, time.Minute))
	defer restarted.Close()
	resp = getFrom(restarted, url.Values{"src": {src}, "w": {"2000"}, "q": {"100"}}, "image/avif")
	assert.Equal(t, "disk", resp.Header.Get("X-Cache"))
	assert.Equal(t, "png:2000:100:avif", body(resp))

	assert.EqualValues(t, 1, originHits.Load())
	assert.EqualValues(t, 1, transformer.calls.Load())

	// explicit format wins over Accept
	resp = get(url.Values{"src": {src}, "format": {"jpeg"}}, "image/avif")
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "png:0:80:jpeg", body(resp))

	// png is a supported explicit format
	resp = get(url.Values{"src": {src}, "format": {"png"}, "w": {"50"}}, "image/avif")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "png:50:80:png", body(resp))

	// unknown format is rejected
	resp = get(url.Values{"src": {src}, "format": {"heic"}}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Unsupported format parameter", body(resp))

	// missing src
	resp = get(url.Values{"w": {"10"}}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing src parameter", body(resp))

	// upstream failure is reported and not cached
	resp = get(url.Values{"src": {originSrv.URL + "/missing.png"}}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Failed to fetch image: Not Found", body(resp))

	entries, err = os.ReadDir(cacheDir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	for _, e := range entries {
		assert.NotEqual(t, ".tmp", filepath.Ext(e.Name()))
	}
}
