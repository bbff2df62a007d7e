// Package processor 把一次图片操作落到具体的变换能力上，并把所有失败归类为 ProcessingError。
//
// Processor 负责单张图片：读取、解码、调用能力、编码、写出；
// Dispatcher 负责目录级批处理。
package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/chaos-io/pixfix/logger"
	"github.com/chaos-io/pixfix/metrics"
	"github.com/chaos-io/pixfix/transform"
	"github.com/chaos-io/pixfix/transform/rembg"
	"github.com/chaos-io/pixfix/util"
)

// Capabilities 每种操作对应的变换能力
type Capabilities struct {
	Remover   rembg.Remover
	Enhancer  transform.Enhancer
	Resizer   transform.Resizer
	Inpainter transform.Inpainter
	Warper    transform.PerspectiveWarper
}

// DefaultCapabilities 增强、修补、透视校正由 transform.Backend 决定（默认 OpenCV）
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Remover:   rembg.NewDefaultRemBG(rembg.DefaultTolerance),
		Enhancer:  transform.DefaultEnhancer(),
		Resizer:   transform.NewLanczosResizer(),
		Inpainter: transform.DefaultInpainter(),
		Warper:    transform.DefaultWarper(),
	}
}

// 默认遮罩：第 100-200 行、第 100-200 列（不含 200）
const (
	defaultMaskMin = 100
	defaultMaskMax = 200
)

type Processor struct {
	fs      afero.Fs
	formats FormatSet
	caps    Capabilities
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Processor)

func WithFs(fs afero.Fs) Option {
	return func(p *Processor) {
		p.fs = fs
	}
}

func WithFormats(exts ...string) Option {
	return func(p *Processor) {
		p.formats = NewFormatSet(exts...)
	}
}

// WithCapabilities 只替换非 nil 的能力
func WithCapabilities(caps Capabilities) Option {
	return func(p *Processor) {
		if caps.Remover != nil {
			p.caps.Remover = caps.Remover
		}
		if caps.Enhancer != nil {
			p.caps.Enhancer = caps.Enhancer
		}
		if caps.Resizer != nil {
			p.caps.Resizer = caps.Resizer
		}
		if caps.Inpainter != nil {
			p.caps.Inpainter = caps.Inpainter
		}
		if caps.Warper != nil {
			p.caps.Warper = caps.Warper
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

func New(opts ...Option) *Processor {
	p := &Processor{
		fs:      afero.NewOsFs(),
		formats: NewFormatSet(),
		caps:    DefaultCapabilities(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logger.OrDefault(p.logger)
	return p
}

// Process 按操作类型分发
func (p *Processor) Process(ctx context.Context, op Operation, input, output string) ProcessingResult {
	if err := Validate(op); err != nil {
		var kind Kind
		if op != nil {
			kind = op.Kind()
		}
		return p.finish(ProcessingResult{Kind: kind, Input: input, Output: output, Err: withPath(err, input)}, time.Now())
	}

	switch op := op.(type) {
	case RemoveBackground:
		return p.RemoveBackground(ctx, input, output)
	case Enhance:
		return p.Enhance(ctx, input, output)
	case Resize:
		return p.Resize(ctx, input, output, op.Width, op.Height)
	case RemoveObjects:
		return p.RemoveObjects(ctx, input, output, op.MaskPath)
	case FixPerspective:
		return p.FixPerspective(ctx, input, output, op.Corners)
	default:
		err := paramErr("process", input, fmt.Errorf("unsupported operation %T", op))
		return p.finish(ProcessingResult{Kind: op.Kind(), Input: input, Output: output, Err: err}, time.Now())
	}
}

// RemoveBackground 输出总是 png
func (p *Processor) RemoveBackground(ctx context.Context, input, output string) ProcessingResult {
	return p.run(ctx, KindRemoveBackground, input, ForcePNG(output), func(img image.Image) (image.Image, error) {
		return p.caps.Remover.Remove(ctx, img)
	})
}

// Enhance 彩色非局部均值降噪后再做 3x3 锐化
func (p *Processor) Enhance(ctx context.Context, input, output string) ProcessingResult {
	return p.run(ctx, KindEnhance, input, output, func(img image.Image) (image.Image, error) {
		return p.caps.Enhancer.Enhance(ctx, img)
	})
}

// Resize 宽高都给时精确缩放；只给一个时按原图比例计算另一个
func (p *Processor) Resize(ctx context.Context, input, output string, width, height int) ProcessingResult {
	if err := (Resize{Width: width, Height: height}).validate(); err != nil {
		res := ProcessingResult{Kind: KindResize, Input: input, Output: output, Err: paramErr(KindResize.String(), input, err)}
		return p.finish(res, time.Now())
	}
	return p.run(ctx, KindResize, input, output, func(img image.Image) (image.Image, error) {
		b := img.Bounds()
		w, h := transform.TargetSize(b.Dx(), b.Dy(), width, height)
		return p.caps.Resizer.Resize(ctx, img, w, h)
	})
}

// RemoveObjects maskPath 为空时使用默认矩形遮罩，遮罩非零处被修补
func (p *Processor) RemoveObjects(ctx context.Context, input, output, maskPath string) ProcessingResult {
	return p.run(ctx, KindRemoveObjects, input, output, func(img image.Image) (image.Image, error) {
		var mask *image.Gray
		if maskPath == "" {
			mask = DefaultMask(img.Bounds())
		} else {
			m, err := p.decode(KindRemoveObjects.String(), maskPath)
			if err != nil {
				return nil, err
			}
			mask = transform.ToGray(m)
		}
		return p.caps.Inpainter.Inpaint(ctx, img, mask)
	})
}

// FixPerspective 把 corners 围成的四边形矫正为矩形
func (p *Processor) FixPerspective(ctx context.Context, input, output string, corners [4]transform.Point) ProcessingResult {
	return p.run(ctx, KindFixPerspective, input, output, func(img image.Image) (image.Image, error) {
		return p.caps.Warper.Warp(ctx, img, corners)
	})
}

// DefaultMask 与图片同尺寸，只有默认矩形区域为 255，超出图片的部分被裁掉
func DefaultMask(bounds image.Rectangle) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	region := image.Rect(defaultMaskMin, defaultMaskMin, defaultMaskMax, defaultMaskMax).Intersect(mask.Rect)
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			mask.Pix[y*mask.Stride+x] = 255
		}
	}
	return mask
}

// run 单张图片的公共流程，任何失败（包括 panic）都落到 ProcessingResult.Err
func (p *Processor) run(ctx context.Context, kind Kind, input, output string, apply func(image.Image) (image.Image, error)) (res ProcessingResult) {
	start := time.Now()
	res = ProcessingResult{Kind: kind, Input: input, Output: output}
	op := kind.String()

	defer func() {
		if v := recover(); v != nil {
			res.Err = recoveredErr(op, input, v)
		}
		res = p.finish(res, start)
	}()

	if !util.Encodable(output) {
		res.Err = paramErr(op, output, fmt.Errorf("%w: %q", util.ErrUnsupportedFormat, filepath.Ext(output)))
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Err = capabilityErr(op, input, err)
		return res
	}

	img, err := p.decode(op, input)
	if err != nil {
		res.Err = err
		return res
	}

	out, err := apply(img)
	if err != nil {
		var pe *ProcessingError
		if errors.As(err, &pe) {
			res.Err = err
		} else {
			res.Err = capabilityErr(op, input, err)
		}
		return res
	}
	if out == nil || out.Bounds().Empty() {
		res.Err = capabilityErr(op, input, errors.New("capability returned an empty image"))
		return res
	}

	if err := util.SaveImage(p.fs, output, out); err != nil {
		res.Err = ioErr(op, output, fmt.Errorf("write image: %w", err))
		return res
	}
	return res
}

// decode 打开失败为 IOError，解码失败为 DecodeError
func (p *Processor) decode(op, path string) (image.Image, error) {
	f, err := p.fs.Open(path)
	if err != nil {
		return nil, ioErr(op, path, fmt.Errorf("open image: %w", err))
	}
	defer func() {
		_ = f.Close()
	}()

	img, _, err := util.DecodeImage(f)
	if err != nil {
		return nil, decodeErr(op, path, fmt.Errorf("decode image: %w", err))
	}
	return img, nil
}

func (p *Processor) finish(res ProcessingResult, start time.Time) ProcessingResult {
	res.Duration = time.Since(start)
	p.metrics.ObserveOperation(res.Kind.String(), res.Duration, res.Err)

	if res.Err != nil {
		p.logger.Error("process image failed",
			"op", res.Kind.String(), "input", res.Input, "output", res.Output,
			"kind", KindOf(res.Err).String(), "err", res.Err)
		return res
	}
	p.logger.Info("processed image",
		"op", res.Kind.String(), "input", res.Input, "output", res.Output, "duration", res.Duration)
	return res
}

// withPath 给缺少路径的 ProcessingError 补上输入路径
func withPath(err error, path string) error {
	var pe *ProcessingError
	if errors.As(err, &pe) && pe.Path == "" {
		cp := *pe
		cp.Path = path
		return &cp
	}
	return err
}
