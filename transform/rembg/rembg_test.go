package rembg

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/pixfix/transform"
	nhttp "github.com/chaos-io/pixfix/util/http"
)

// subject 白底中间一个红色方块
func subject(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: 250, G: 250, B: 250, A: 255}
			if x >= w/4 && x < 3*w/4 && y >= h/4 && y < 3*h/4 {
				c = color.NRGBA{R: 200, G: 20, B: 20, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestDefaultRemBG_Remove(t *testing.T) {
	t.Parallel()

	out, err := NewDefaultRemBG(0).Remove(context.Background(), subject(40, 40))
	require.NoError(t, err)

	got := transform.ToNRGBA(out)
	assert.Equal(t, image.Rect(0, 0, 40, 40), got.Bounds())
	assert.Equal(t, uint8(0), got.NRGBAAt(0, 0).A, "背景透明")
	assert.Equal(t, uint8(0), got.NRGBAAt(39, 20).A, "背景透明")
	assert.Equal(t, uint8(255), got.NRGBAAt(20, 20).A, "主体保留")
	assert.Equal(t, uint8(200), got.NRGBAAt(20, 20).R)
}

func TestDefaultRemBG_KeepsExistingAlpha(t *testing.T) {
	t.Parallel()

	img := subject(10, 10)
	img.SetNRGBA(5, 5, color.NRGBA{R: 1, A: 10})

	out, err := NewDefaultRemBG(DefaultTolerance).Remove(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, transform.ToNRGBA(out).Pix)
}

func TestDefaultRemBG_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDefaultRemBG(DefaultTolerance).Remove(ctx, subject(10, 10))
	assert.ErrorIs(t, err, context.Canceled)
}

// fakeComfyUI 模拟 ComfyUI 的 upload/prompt/history/view 接口
type fakeComfyUI struct {
	historyCalls atomic.Int32
	pendingPolls int32
	failPrompt   bool
	uploadedName atomic.Value
	queuedImage  atomic.Value
}

func (f *fakeComfyUI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload/image", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("image")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		f.uploadedName.Store(header.Filename)
		assert.Equal(t, "input", r.FormValue("type"))
		_ = json.NewEncoder(w).Encode(map[string]string{"name": header.Filename, "subfolder": "", "type": "input"})
	})
	mux.HandleFunc("/api/prompt", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt map[string]struct {
				ClassType string         `json:"class_type"`
				Inputs    map[string]any `json:"inputs"`
			} `json:"prompt"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for _, node := range body.Prompt {
			if node.ClassType == "LoadImage" {
				f.queuedImage.Store(node.Inputs["image"])
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"prompt_id": "p-1", "number": 1})
	})
	mux.HandleFunc("/api/history/p-1", func(w http.ResponseWriter, r *http.Request) {
		n := f.historyCalls.Add(1)
		if n <= f.pendingPolls {
			_, _ = w.Write([]byte("{}"))
			return
		}
		status := "success"
		if f.failPrompt {
			status = "error"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"p-1": map[string]any{
				"outputs": map[string]any{
					"3": map[string]any{"images": []map[string]string{
						{"filename": "out.png", "subfolder": "", "type": "output"},
					}},
				},
				"status": map[string]any{"status_str": status, "completed": true},
			},
		})
	})
	mux.HandleFunc("/api/view", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "out.png", r.URL.Query().Get("filename"))
		assert.Equal(t, "output", r.URL.Query().Get("type"))

		// 左半透明，右半不透明
		mask := image.NewNRGBA(image.Rect(0, 0, 16, 16))
		for y := 0; y < 16; y++ {
			for x := 8; x < 16; x++ {
				mask.SetNRGBA(x, y, color.NRGBA{A: 255})
			}
		}
		var buf bytes.Buffer
		_ = png.Encode(&buf, mask)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(buf.Bytes())
	})
	return mux
}

func TestBiRefNetRemBG_Remove(t *testing.T) {
	t.Parallel()

	fake := &fakeComfyUI{pendingPolls: 2}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	b := NewBiRefNetRemBG(srv.URL, nhttp.NewHTTPClient(), WithPollInterval(time.Millisecond))
	out, err := b.Remove(context.Background(), subject(64, 64))
	require.NoError(t, err)

	got := transform.ToNRGBA(out)
	assert.Equal(t, image.Rect(0, 0, 64, 64), got.Bounds(), "结果恢复到原尺寸")
	assert.Equal(t, uint8(0), got.NRGBAAt(2, 32).A)
	assert.Equal(t, uint8(255), got.NRGBAAt(60, 32).A)
	assert.Equal(t, uint8(250), got.NRGBAAt(60, 2).R, "颜色取自原图")

	assert.EqualValues(t, 3, fake.historyCalls.Load())
	name, _ := fake.uploadedName.Load().(string)
	assert.True(t, strings.HasSuffix(name, ".png"))
	assert.Equal(t, name, fake.queuedImage.Load(), "工作流里的占位符被替换为上传的文件名")
}

func TestBiRefNetRemBG_PromptError(t *testing.T) {
	t.Parallel()

	fake := &fakeComfyUI{failPrompt: true}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	b := NewBiRefNetRemBG(srv.URL+"/", nil, WithPollInterval(time.Millisecond))
	_, err := b.Remove(context.Background(), subject(8, 8))
	assert.ErrorIs(t, err, ErrPromptFailed)
}

func TestBiRefNetRemBG_ServerDown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewBiRefNetRemBG(srv.URL, nil).Remove(context.Background(), subject(8, 8))
	var statusErr *nhttp.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
}

func TestBiRefNetRemBG_Timeout(t *testing.T) {
	t.Parallel()

	fake := &fakeComfyUI{pendingPolls: 1 << 20}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	b := NewBiRefNetRemBG(srv.URL, nil, WithPollInterval(5*time.Millisecond), WithTimeout(80*time.Millisecond))
	start := time.Now()
	_, err := b.Remove(context.Background(), subject(8, 8))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Greater(t, fake.historyCalls.Load(), int32(1))
}
