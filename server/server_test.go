package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/pixfix/config"
	"github.com/chaos-io/pixfix/metrics"
	"github.com/chaos-io/pixfix/processor"
	nhttp "github.com/chaos-io/pixfix/util/http"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 3), G: uint8(y * 3), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type upstream struct {
	srv   *httptest.Server
	hits  atomic.Int32
	thumb []byte
	full  []byte
}

func newUpstream(t *testing.T) *upstream {
	u := &upstream{thumb: pngBytes(t, 60, 40), full: pngBytes(t, 120, 80)}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		switch r.URL.Path {
		case "/thumb.png":
			_, _ = w.Write(u.thumb)
		case "/full.png":
			_, _ = w.Write(u.full)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(u.srv.Close)
	return u
}

type testEnv struct {
	server   *Server
	fs       afero.Fs
	upstream *upstream
	metrics  *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	up := newUpstream(t)
	fs := afero.NewMemMapFs()
	m := metrics.New()

	cfg := config.Default().Server
	cfg.MaxUploadBytes = 1 << 20

	stager, err := NewStager(fs, cfg.TempDir, cfg.TempTTL, quiet, m)
	require.NoError(t, err)
	fetcher, err := NewFetcher(nhttp.NewDownloader(nil, 1, time.Millisecond, time.Second), 8, m)
	require.NoError(t, err)

	catalog := NewCatalog([]Photo{
		{ID: 1, Title: "one", URL: up.srv.URL + "/full.png", ThumbnailURL: up.srv.URL + "/thumb.png"},
		{ID: 2, Title: "gone", URL: up.srv.URL + "/missing.png", ThumbnailURL: up.srv.URL + "/missing.png"},
	})
	s := New(cfg, Deps{
		Processor: processor.New(processor.WithFs(fs), processor.WithLogger(quiet), processor.WithMetrics(m)),
		Fetcher:   fetcher,
		Stager:    stager,
		Catalog:   catalog,
		Metrics:   m,
		Logger:    quiet,
	})
	return &testEnv{server: s, fs: fs, upstream: up, metrics: m}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	return e.do(t, httptest.NewRequest(http.MethodGet, path, nil))
}

func decodeSize(t *testing.T, body []byte) (string, int, int) {
	t.Helper()
	img, format, err := image.Decode(bytes.NewReader(body))
	require.NoError(t, err)
	return format, img.Bounds().Dx(), img.Bounds().Dy()
}

func detailOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Detail
}

func TestServer_RootAndHealth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.get(t, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	var root struct {
		Title     string   `json:"title"`
		Version   string   `json:"version"`
		Endpoints []string `json:"endpoints"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &root))
	assert.Equal(t, Title, root.Title)
	assert.Equal(t, APIVersion, root.Version)
	assert.Contains(t, root.Endpoints, "/process/{photo_id}/remove-background - Remove image background")
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = env.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestServer_ListPhotos(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []struct {
		name string
		path string
		code int
		n    int
	}{
		{name: "默认 limit", path: "/photos", code: http.StatusOK, n: 2},
		{name: "limit=1", path: "/photos?limit=1", code: http.StatusOK, n: 1},
		{name: "limit=0", path: "/photos?limit=0", code: http.StatusOK, n: 0},
		{name: "limit 非数字", path: "/photos?limit=abc", code: http.StatusBadRequest},
		{name: "limit 负数", path: "/photos?limit=-1", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.get(t, tt.path)
			require.Equal(t, tt.code, rec.Code)
			if tt.code != http.StatusOK {
				return
			}
			var photos []Photo
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &photos))
			assert.Len(t, photos, tt.n)
		})
	}
}

func TestServer_ViewPhoto(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.get(t, "/photos/1/view")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, env.upstream.full, rec.Body.Bytes())

	rec = env.get(t, "/photos/9/view")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Photo not found", detailOf(t, rec))

	rec = env.get(t, "/photos/2/view")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Image not found", detailOf(t, rec))

	rec = env.get(t, "/photos/x/view")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ProcessPhoto(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []struct {
		name       string
		path       string
		wantFormat string
		wantW      int
		wantH      int
	}{
		{name: "去背景返回 png", path: "/process/1/remove-background", wantFormat: "png", wantW: 60, wantH: 40},
		{name: "缩放只给宽度", path: "/process/1/resize?width=30", wantFormat: "jpeg", wantW: 30, wantH: 20},
		{name: "缩放宽高都给", path: "/process/1/resize?width=10&height=10", wantFormat: "jpeg", wantW: 10, wantH: 10},
		{name: "透视校正", path: "/process/1/fix-perspective?corners=0,0,50,0,50,25,0,25", wantFormat: "jpeg", wantW: 50, wantH: 25},
		{name: "移除物体", path: "/process/1/remove-objects", wantFormat: "jpeg", wantW: 60, wantH: 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.get(t, tt.path)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "image/"+tt.wantFormat, rec.Header().Get("Content-Type"))
			format, w, h := decodeSize(t, rec.Body.Bytes())
			assert.Equal(t, tt.wantFormat, format)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}

	assert.EqualValues(t, 1, env.upstream.hits.Load(), "缩略图只下载一次，之后命中缓存")
}

func TestServer_ProcessPhotoErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []struct {
		name   string
		path   string
		code   int
		detail string
	}{
		{name: "缩放缺少宽高", path: "/process/1/resize", code: http.StatusBadRequest, detail: "Either width or height must be specified"},
		{name: "宽度不是数字", path: "/process/1/resize?width=big", code: http.StatusBadRequest, detail: "width must be an integer"},
		{name: "角点数量不对", path: "/process/1/fix-perspective?corners=1,2,3", code: http.StatusBadRequest},
		{name: "图片不存在", path: "/process/42/enhance", code: http.StatusNotFound, detail: "Photo not found"},
		{name: "上游 404", path: "/process/2/enhance", code: http.StatusNotFound, detail: "Image not found"},
		{name: "角点退化", path: "/process/1/fix-perspective?corners=1,1,5,5,9,9,13,13", code: http.StatusInternalServerError, detail: "Failed to process image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.get(t, tt.path)
			require.Equal(t, tt.code, rec.Code)
			if tt.detail != "" {
				assert.Equal(t, tt.detail, detailOf(t, rec))
			}
		})
	}
}

func multipartBody(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for field, data := range files {
		part, err := w.CreateFormFile(field, field+".bin")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestServer_Upload(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	upload := func(path string, files map[string][]byte) *httptest.ResponseRecorder {
		body, contentType := multipartBody(t, files)
		req := httptest.NewRequest(http.MethodPost, path, body)
		req.Header.Set("Content-Type", contentType)
		return env.do(t, req)
	}

	rec := upload("/upload/resize?height=20", map[string][]byte{"file": pngBytes(t, 80, 40)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	format, w, h := decodeSize(t, rec.Body.Bytes())
	assert.Equal(t, "png", format, "非去背景时保持上传的格式")
	assert.Equal(t, [2]int{40, 20}, [2]int{w, h})

	rec = upload("/upload/1", map[string][]byte{"file": pngBytes(t, 10, 10)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	mask := pngBytes(t, 5, 5)
	rec = upload("/upload/remove_objects", map[string][]byte{"file": pngBytes(t, 10, 10), "mask": mask})
	assert.Equal(t, http.StatusInternalServerError, rec.Code, "遮罩尺寸不一致")

	rec = upload("/upload/resize?width=5", map[string][]byte{"file": []byte("just some text")})
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = upload("/upload/resize", map[string][]byte{"file": pngBytes(t, 10, 10)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = upload("/upload/sharpen", map[string][]byte{"file": pngBytes(t, 10, 10)})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/upload/enhance", strings.NewReader("")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	require.Equal(t, http.StatusOK, env.get(t, "/process/1/resize?width=12").Code)
	rec := env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	text := rec.Body.String()
	assert.Contains(t, text, `pixfix_operations_total{operation="resize",result="success"} 1`)
	assert.Contains(t, text, `pixfix_fetches_total{source="remote"} 1`)
	assert.Contains(t, text, `route="/process/:id/resize"`)
}

func TestStager(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	s, err := NewStager(fs, "/tmp/stage", time.Minute, quiet, nil)
	require.NoError(t, err)

	p1, err := s.Write("input_1", ".jpg", []byte("a"))
	require.NoError(t, err)
	p2, err := s.Write("input_1", ".jpg", []byte("b"))
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2, "同一前缀的文件名也不冲突")
	assert.True(t, strings.HasPrefix(p1, "/tmp/stage/input_1_"))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, fs.Chtimes(p1, old, old))

	n, err := s.Sweep(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	exists, _ := afero.Exists(fs, p1)
	assert.False(t, exists)
	exists, _ = afero.Exists(fs, p2)
	assert.True(t, exists)

	require.Error(t, s.StartJanitor("not a schedule"))
	require.NoError(t, s.StartJanitor("@every 1h"))
	require.NoError(t, s.Close(t.Context()))
	exists, _ = afero.Exists(fs, p2)
	assert.False(t, exists, "关闭时清空临时文件")
	dirExists, _ := afero.DirExists(fs, "/tmp/stage")
	assert.True(t, dirExists)
}

func TestCatalog(t *testing.T) {
	t.Parallel()

	c := NewCatalog(nil)
	assert.Len(t, c.List(10), 3)
	assert.Len(t, c.List(2), 2)
	p, ok := c.Get(3)
	require.True(t, ok)
	assert.Equal(t, "Sample Architecture", p.Title)
	_, ok = c.Get(4)
	assert.False(t, ok)
}
