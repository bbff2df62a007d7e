package rembg

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"golang.org/x/image/draw"

	"github.com/chaos-io/pixfix/transform"
	nhttp "github.com/chaos-io/pixfix/util/http"
)

const (
	BiRefNetModel = "BiRefNet"

	uploadPath  = "api/upload/image"
	promptPath  = "api/prompt"
	historyPath = "api/history/"
	viewPath    = "api/view"

	// 上传前把最长边缩到该尺寸以内，结果的 alpha 再放大回原尺寸
	maxUploadSize = 1024

	imagePlaceholder = "MyImage.png"
)

var ErrPromptFailed = errors.New("comfyui prompt failed")

//go:embed workflow.json
var workflowData string

// BiRefNetRemBG 通过 ComfyUI 上的 BiRefNet 工作流做抠图
type BiRefNetRemBG struct {
	baseURL      string
	cli          nhttp.IClient
	pollInterval time.Duration
	timeout      time.Duration
	workflow     string
}

type Option func(*BiRefNetRemBG)

func WithPollInterval(d time.Duration) Option {
	return func(b *BiRefNetRemBG) {
		b.pollInterval = d
	}
}

// WithTimeout 单次抠图（上传、排队、轮询、下载）的总超时
func WithTimeout(d time.Duration) Option {
	return func(b *BiRefNetRemBG) {
		b.timeout = d
	}
}

// WithWorkflow 使用自定义工作流，其中 MyImage.png 会被替换为上传后的文件名
func WithWorkflow(workflow string) Option {
	return func(b *BiRefNetRemBG) {
		if workflow != "" {
			b.workflow = workflow
		}
	}
}

func NewBiRefNetRemBG(baseURL string, cli nhttp.IClient, opts ...Option) *BiRefNetRemBG {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if cli == nil {
		cli = nhttp.NewHTTPClient()
	}
	b := &BiRefNetRemBG{
		baseURL:      baseURL,
		cli:          cli,
		pollInterval: time.Second,
		workflow:     workflowData,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BiRefNetRemBG) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	src := transform.ToNRGBA(img)
	small := transform.ResizeWithinMax(src, maxUploadSize)

	var buf bytes.Buffer
	if err := png.Encode(&buf, small); err != nil {
		return nil, fmt.Errorf("encode upload image: %w", err)
	}

	uploaded, err := b.uploadImage(ctx, ksuid.New().String()+".png", buf.Bytes())
	if err != nil {
		return nil, err
	}

	promptID, err := b.prompt(ctx, uploaded.Name)
	if err != nil {
		return nil, err
	}

	ref, err := b.waitOutput(ctx, promptID)
	if err != nil {
		return nil, err
	}

	cut, err := b.view(ctx, ref)
	if err != nil {
		return nil, err
	}

	return applyAlpha(src, cut), nil
}

type uploadImageResp struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

/*
	curl -X POST "$BASE_URL/api/upload/image" \
	  -F "image=@my_image.png" \
	  -F "type=input" \
	  -F "overwrite=true"

{"name": "my_image1.png", "subfolder": "", "type": "input"}
*/
func (b *BiRefNetRemBG) uploadImage(ctx context.Context, name string, data []byte) (*uploadImageResp, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", name)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}

	_ = writer.WriteField("type", "input")
	_ = writer.WriteField("overwrite", "true")
	_ = writer.Close()

	resp := &uploadImageResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + uploadPath,
		Method:     http.MethodPost,
		Header:     map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:       body,
		Response:   resp,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	if resp.Name == "" {
		resp.Name = name
	}

	slog.Debug("uploaded image", "model", BiRefNetModel, "name", resp.Name, "subfolder", resp.Subfolder)
	return resp, nil
}

type promptResp struct {
	PromptID string `json:"prompt_id"`
}

/*
	curl -X POST "$BASE_URL/api/prompt" \
	  -H "Content-Type: application/json" \
	  -d '{"prompt": '"$(cat workflow.json)"'}'
*/
func (b *BiRefNetRemBG) prompt(ctx context.Context, imageName string) (string, error) {
	workflow := strings.Replace(b.workflow, imagePlaceholder, imageName, 1)

	wk := map[string]any{}
	if err := json.Unmarshal([]byte(workflow), &wk); err != nil {
		return "", fmt.Errorf("unmarshal workflow data: %w", err)
	}

	resp := &promptResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + promptPath,
		Method:     http.MethodPost,
		Body:       map[string]any{"prompt": wk},
		Response:   resp,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return "", fmt.Errorf("queue prompt: %w", err)
	}
	if resp.PromptID == "" {
		return "", fmt.Errorf("%w: empty prompt id", ErrPromptFailed)
	}

	slog.Debug("queued prompt", "model", BiRefNetModel, "prompt_id", resp.PromptID)
	return resp.PromptID, nil
}

type imageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type historyEntry struct {
	Outputs map[string]struct {
		Images []imageRef `json:"images"`
	} `json:"outputs"`
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
}

// waitOutput 轮询 history 直到工作流产出图片
func (b *BiRefNetRemBG) waitOutput(ctx context.Context, promptID string) (imageRef, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		history := map[string]historyEntry{}
		reqParam := &nhttp.RequestParam{
			RequestURI: b.baseURL + historyPath + url.PathEscape(promptID),
			Method:     http.MethodGet,
			Response:   &history,
		}
		if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
			return imageRef{}, fmt.Errorf("get history: %w", err)
		}

		if entry, ok := history[promptID]; ok {
			if entry.Status.StatusStr == "error" {
				return imageRef{}, fmt.Errorf("%w: prompt %s", ErrPromptFailed, promptID)
			}
			for _, out := range entry.Outputs {
				if len(out.Images) > 0 {
					return out.Images[0], nil
				}
			}
			if entry.Status.Completed {
				return imageRef{}, fmt.Errorf("%w: prompt %s produced no image", ErrPromptFailed, promptID)
			}
		}

		select {
		case <-ctx.Done():
			return imageRef{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *BiRefNetRemBG) view(ctx context.Context, ref imageRef) (image.Image, error) {
	query := url.Values{}
	query.Set("filename", ref.Filename)
	query.Set("subfolder", ref.Subfolder)
	query.Set("type", ref.Type)

	var data []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + viewPath + "?" + query.Encode(),
		Method:     http.MethodGet,
		Response:   &data,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("view output: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	return img, nil
}

// applyAlpha 把抠图结果的 alpha 放大到原图尺寸后套到原图上
func applyAlpha(src *image.NRGBA, cut image.Image) *image.NRGBA {
	alpha := image.NewNRGBA(src.Rect)
	draw.CatmullRom.Scale(alpha, alpha.Bounds(), cut, cut.Bounds(), draw.Src, nil)

	dst := image.NewNRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = alpha.Pix[i]
	}
	return dst
}
