//go:build cgo && !purego

package transform

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// Backend 当前构建使用的变换实现
const Backend = "opencv"

func DefaultEnhancer() Enhancer {
	return NewCVEnhancer(DefaultEnhanceParams)
}

func DefaultInpainter() Inpainter {
	return NewCVInpainter(DefaultInpaintRadius)
}

func DefaultWarper() PerspectiveWarper {
	return NewCVWarper()
}

// toBGR 转为 OpenCV 的 8UC3 BGR 矩阵，调用方负责 Close
func toBGR(img image.Image) (gocv.Mat, error) {
	src := ToNRGBA(img)
	if src.Rect.Empty() {
		return gocv.NewMat(), fmt.Errorf("%w: empty image", ErrBadSize)
	}
	m, err := gocv.ImageToMatRGB(src)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("convert image to mat: %w", err)
	}
	return m, nil
}

func fromMat(m gocv.Mat) (image.Image, error) {
	if m.Empty() {
		return nil, fmt.Errorf("opencv returned an empty mat")
	}
	img, err := m.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert mat to image: %w", err)
	}
	return img, nil
}

// CVEnhancer fastNlMeansDenoisingColored 后用 filter2D 锐化
type CVEnhancer struct {
	params EnhanceParams
}

func NewCVEnhancer(params EnhanceParams) *CVEnhancer {
	return &CVEnhancer{params: params}
}

func (e *CVEnhancer) Enhance(ctx context.Context, img image.Image) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := toBGR(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	denoised := gocv.NewMat()
	defer denoised.Close()
	gocv.FastNlMeansDenoisingColoredWithParams(src, &denoised,
		float32(e.params.H), float32(e.params.HColor), e.params.TemplateWindow, e.params.SearchWindow)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kernel := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	defer kernel.Close()
	for i, v := range SharpenKernel {
		kernel.SetFloatAt(i/3, i%3, float32(v))
	}
	sharpened := gocv.NewMat()
	defer sharpened.Close()
	gocv.Filter2D(denoised, &sharpened, -1, kernel, image.Pt(-1, -1), 0, gocv.BorderDefault)

	return fromMat(sharpened)
}

// CVInpainter OpenCV 的 Telea 修补
type CVInpainter struct {
	radius int
}

func NewCVInpainter(radius int) *CVInpainter {
	if radius < 1 {
		radius = DefaultInpaintRadius
	}
	return &CVInpainter{radius: radius}
}

func (p *CVInpainter) Inpaint(ctx context.Context, img image.Image, mask *image.Gray) (image.Image, error) {
	if err := checkMask(img.Bounds(), mask); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := toBGR(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	m, err := gocv.ImageGrayToMatGray(ToGray(mask))
	if err != nil {
		return nil, fmt.Errorf("convert mask to mat: %w", err)
	}
	defer m.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Inpaint(src, m, &dst, float32(p.radius), gocv.Telea)
	return fromMat(dst)
}

// CVWarper getPerspectiveTransform + warpPerspective，画布外为黑色
type CVWarper struct{}

func NewCVWarper() *CVWarper {
	return &CVWarper{}
}

func (w *CVWarper) Warp(ctx context.Context, img image.Image, corners [4]Point) (image.Image, error) {
	outW, outH, target, err := Rectify(corners)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := toBGR(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	from := gocv.NewPoint2fVectorFromPoints(point2f(corners))
	defer from.Close()
	to := gocv.NewPoint2fVectorFromPoints(point2f(target))
	defer to.Close()

	m := gocv.GetPerspectiveTransform2f(from, to)
	defer m.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.WarpPerspective(src, &dst, m, image.Pt(outW, outH))
	return fromMat(dst)
}

func point2f(pts [4]Point) []gocv.Point2f {
	out := make([]gocv.Point2f, len(pts))
	for i, p := range pts {
		out[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}
	return out
}
