//go:build !cgo || purego

package transform

import (
	"context"
	"image"
	"math"
)

// BilinearWarper 透视校正，双线性插值，画布外为黑色
type BilinearWarper struct{}

func NewBilinearWarper() *BilinearWarper {
	return &BilinearWarper{}
}

func (b *BilinearWarper) Warp(ctx context.Context, img image.Image, corners [4]Point) (image.Image, error) {
	outW, outH, target, err := Rectify(corners)
	if err != nil {
		return nil, err
	}
	// 反向映射：输出像素 -> 源像素
	inverse, err := PerspectiveTransform(target, corners)
	if err != nil {
		return nil, err
	}

	src := ToNRGBA(img)
	dst := image.NewNRGBA(image.Rect(0, 0, outW, outH))
	for y := 0; y < outH; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for x := 0; x < outW; x++ {
			o := y*dst.Stride + x*4
			p, ok := inverse.Apply(Point{X: float64(x), Y: float64(y)})
			if !ok {
				dst.Pix[o+3] = 255
				continue
			}
			sampleBilinear(src, snap(p.X), snap(p.Y), dst.Pix[o:o+4])
		}
	}
	return dst, nil
}

// snap 消除求解误差带来的亚像素抖动
func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < 1e-6 {
		return r
	}
	return v
}

func sampleBilinear(src *image.NRGBA, x, y float64, out []uint8) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	fx, fy := x-float64(x0), y-float64(y0)

	var acc [4]float64
	for j := 0; j < 2; j++ {
		for i := 0; i < 2; i++ {
			wt := (1 - fx) * (1 - fy)
			switch {
			case i == 1 && j == 0:
				wt = fx * (1 - fy)
			case i == 0 && j == 1:
				wt = (1 - fx) * fy
			case i == 1 && j == 1:
				wt = fx * fy
			}
			if wt == 0 {
				continue
			}
			sx, sy := x0+i, y0+j
			if sx < 0 || sy < 0 || sx >= w || sy >= h {
				// 常量边界：不透明黑色
				acc[3] += wt * 255
				continue
			}
			k := sy*src.Stride + sx*4
			acc[0] += wt * float64(src.Pix[k])
			acc[1] += wt * float64(src.Pix[k+1])
			acc[2] += wt * float64(src.Pix[k+2])
			acc[3] += wt * float64(src.Pix[k+3])
		}
	}
	for c := 0; c < 4; c++ {
		out[c] = clampUint8(acc[c])
	}
}
