package transform

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/nfnt/resize"
)

// LanczosResizer 使用 Lanczos3 重采样
type LanczosResizer struct{}

func NewLanczosResizer() *LanczosResizer {
	return &LanczosResizer{}
}

func (r *LanczosResizer) Resize(ctx context.Context, img image.Image, width, height int) (image.Image, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadSize, width, height)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return resize.Resize(uint(width), uint(height), img, resize.Lanczos3), nil
}

// TargetSize 计算缩放目标尺寸
//
// 宽高都给定时精确缩放，忽略宽高比；只给一个时按比例计算另一个并四舍五入。
// 0 表示未给定。
func TargetSize(origW, origH, width, height int) (int, int) {
	switch {
	case width > 0 && height > 0:
		return width, height
	case width > 0:
		ratio := float64(width) / float64(origW)
		return width, max(1, int(math.Round(float64(origH)*ratio)))
	case height > 0:
		ratio := float64(height) / float64(origH)
		return max(1, int(math.Round(float64(origW)*ratio))), height
	default:
		return origW, origH
	}
}
