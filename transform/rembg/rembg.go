package rembg

import (
	"context"
	"image"
	"math"

	"github.com/chaos-io/pixfix/transform"
)

type Remover interface {
	Remove(ctx context.Context, img image.Image) (image.Image, error)
}

// DefaultTolerance 与背景色的 RGB 欧氏距离阈值
const DefaultTolerance = 30.0

// DefaultRemBG 本地抠图：取四周边框的平均色作为背景色，
// 从边框开始做洪泛填充，把与背景色足够接近的连通像素设为透明。
// 已经带透明通道的图片原样返回。
//
// 只适合纯色或近似纯色背景的演示场景，正式使用请配置 BiRefNet 服务。
type DefaultRemBG struct {
	tolerance float64
}

func NewDefaultRemBG(tolerance float64) *DefaultRemBG {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &DefaultRemBG{tolerance: tolerance}
}

func (d *DefaultRemBG) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	src := transform.ToNRGBA(img)
	dst := image.NewNRGBA(src.Rect)
	copy(dst.Pix, src.Pix)

	if transform.HasUsefulAlpha(dst) {
		return dst, nil
	}

	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	if w == 0 || h == 0 {
		return dst, nil
	}
	bg := borderMean(dst)

	visited := make([]bool, w*h)
	queue := make([]int, 0, 2*(w+h))
	push := func(x, y int) {
		i := y*w + x
		if visited[i] {
			return
		}
		visited[i] = true
		if colorDist(dst, x, y, bg) <= d.tolerance {
			queue = append(queue, i)
		}
	}
	for x := 0; x < w; x++ {
		push(x, 0)
		push(x, h-1)
	}
	for y := 0; y < h; y++ {
		push(0, y)
		push(w-1, y)
	}

	for n := 0; len(queue) > 0; n++ {
		if n%8192 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		i := queue[0]
		queue = queue[1:]
		x, y := i%w, i/w
		dst.Pix[y*dst.Stride+x*4+3] = 0

		if x > 0 {
			push(x-1, y)
		}
		if x < w-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < h-1 {
			push(x, y+1)
		}
	}
	return dst, nil
}

func borderMean(img *image.NRGBA) [3]float64 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	var sum [3]float64
	n := 0
	add := func(x, y int) {
		i := y*img.Stride + x*4
		sum[0] += float64(img.Pix[i])
		sum[1] += float64(img.Pix[i+1])
		sum[2] += float64(img.Pix[i+2])
		n++
	}
	for x := 0; x < w; x++ {
		add(x, 0)
		if h > 1 {
			add(x, h-1)
		}
	}
	for y := 1; y < h-1; y++ {
		add(0, y)
		if w > 1 {
			add(w-1, y)
		}
	}
	return [3]float64{sum[0] / float64(n), sum[1] / float64(n), sum[2] / float64(n)}
}

func colorDist(img *image.NRGBA, x, y int, c [3]float64) float64 {
	i := y*img.Stride + x*4
	dr := float64(img.Pix[i]) - c[0]
	dg := float64(img.Pix[i+1]) - c[1]
	db := float64(img.Pix[i+2]) - c[2]
	return math.Sqrt(dr*dr + dg*dg + db*db)
}
