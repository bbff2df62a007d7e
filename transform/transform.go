// Package transform 提供各类图片变换能力（降噪锐化、缩放、修补、透视校正）。
//
// 每种能力都是一个窄接口，processor 只依赖接口，具体实现可以替换。
package transform

import (
	"context"
	"errors"
	"fmt"
	"image"
)

var (
	ErrMaskSize   = errors.New("mask size does not match image size")
	ErrDegenerate = errors.New("degenerate corner points")
	ErrBadSize    = errors.New("invalid target size")
)

// EnhanceParams 降噪参数
type EnhanceParams struct {
	H              float64 // 亮度滤波强度
	HColor         float64 // 色彩滤波强度
	TemplateWindow int     // 比较块边长（奇数）
	SearchWindow   int     // 搜索窗口边长（奇数）
}

var DefaultEnhanceParams = EnhanceParams{
	H:              10,
	HColor:         10,
	TemplateWindow: 7,
	SearchWindow:   21,
}

// SharpenKernel 锐化卷积核，按行展开
var SharpenKernel = [9]float64{
	-1, -1, -1,
	-1, 9, -1,
	-1, -1, -1,
}

// DefaultInpaintRadius 修补时参考的邻域半径
const DefaultInpaintRadius = 3

// Point 二维坐标点
type Point struct {
	X, Y float64
}

type Enhancer interface {
	Enhance(ctx context.Context, img image.Image) (image.Image, error)
}

type Resizer interface {
	// Resize 缩放到精确的 width x height
	Resize(ctx context.Context, img image.Image, width, height int) (image.Image, error)
}

type Inpainter interface {
	// Inpaint 修补 mask 中非零的像素
	Inpaint(ctx context.Context, img image.Image, mask *image.Gray) (image.Image, error)
}

type PerspectiveWarper interface {
	// Warp 把四边形 corners（左上、右上、右下、左下）区域矫正为矩形
	Warp(ctx context.Context, img image.Image, corners [4]Point) (image.Image, error)
}

func checkMask(bounds image.Rectangle, mask *image.Gray) error {
	if mask == nil {
		return fmt.Errorf("%w: nil mask", ErrMaskSize)
	}
	if mask.Rect.Dx() != bounds.Dx() || mask.Rect.Dy() != bounds.Dy() {
		return fmt.Errorf("%w: image %dx%d, mask %dx%d", ErrMaskSize,
			bounds.Dx(), bounds.Dy(), mask.Rect.Dx(), mask.Rect.Dy())
	}
	return nil
}
