//go:build !cgo || purego

package transform

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// DenoiseSharpen 先做非局部均值降噪，再做 3x3 锐化（不依赖 OpenCV 的实现）
type DenoiseSharpen struct {
	params EnhanceParams
}

func NewDenoiseSharpen(params EnhanceParams) *DenoiseSharpen {
	return &DenoiseSharpen{params: params}
}

func (d *DenoiseSharpen) Enhance(ctx context.Context, img image.Image) (image.Image, error) {
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrBadSize)
	}
	denoised, err := NLMeansDenoise(ctx, ToNRGBA(img), d.params)
	if err != nil {
		return nil, err
	}
	return sharpen(denoised), nil
}

// NLMeansDenoise 彩色非局部均值降噪
//
// 每个搜索偏移量只遍历一次图像：先求逐像素平方差，再用积分图得到块距离，
// 复杂度 O(W*H*S^2)，与模板窗口大小无关。alpha 通道原样保留。
// 色彩与亮度分量分别按 HColor / H 归一化。
func NLMeansDenoise(ctx context.Context, src *image.NRGBA, p EnhanceParams) (*image.NRGBA, error) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	rt := p.TemplateWindow / 2
	rs := p.SearchWindow / 2
	pad := rt + rs

	// 带镜像边界的 YCbCr 平面，Y 用 H，CbCr 用 HColor
	pw, ph := w+2*pad, h+2*pad
	planes := [3][]float64{make([]float64, pw*ph), make([]float64, pw*ph), make([]float64, pw*ph)}
	for y := 0; y < ph; y++ {
		sy := reflect101(y-pad, h)
		for x := 0; x < pw; x++ {
			sx := reflect101(x-pad, w)
			i := sy*src.Stride + sx*4
			r, g, b := float64(src.Pix[i]), float64(src.Pix[i+1]), float64(src.Pix[i+2])
			planes[0][y*pw+x] = 0.299*r + 0.587*g + 0.114*b
			planes[1][y*pw+x] = -0.168736*r - 0.331264*g + 0.5*b
			planes[2][y*pw+x] = 0.5*r - 0.418688*g - 0.081312*b
		}
	}

	hY := math.Max(p.H, 1e-6)
	hC := math.Max(p.HColor, 1e-6)
	invY := 1 / (hY * hY)
	invC := 1 / (hC * hC)
	area := float64((2*rt + 1) * (2*rt + 1))

	// 距离区域：图像外扩 rt
	dw, dh := w+2*rt, h+2*rt
	diff := make([]float64, dw*dh)
	integral := make([]float64, (dw+1)*(dh+1))

	num := [3][]float64{make([]float64, w*h), make([]float64, w*h), make([]float64, w*h)}
	den := make([]float64, w*h)

	for oy := -rs; oy <= rs; oy++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for ox := -rs; ox <= rs; ox++ {
			for y := 0; y < dh; y++ {
				py := y + rs
				for x := 0; x < dw; x++ {
					a := py*pw + x + rs
					b := (py+oy)*pw + x + rs + ox
					d0 := planes[0][a] - planes[0][b]
					d1 := planes[1][a] - planes[1][b]
					d2 := planes[2][a] - planes[2][b]
					diff[y*dw+x] = d0*d0*invY + (d1*d1+d2*d2)*invC*0.5
				}
			}

			for y := 0; y < dh; y++ {
				var row float64
				for x := 0; x < dw; x++ {
					row += diff[y*dw+x]
					integral[(y+1)*(dw+1)+x+1] = integral[y*(dw+1)+x+1] + row
				}
			}

			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					x0, y0 := x, y
					x1, y1 := x+2*rt+1, y+2*rt+1
					s := integral[y1*(dw+1)+x1] - integral[y0*(dw+1)+x1] - integral[y1*(dw+1)+x0] + integral[y0*(dw+1)+x0]
					weight := math.Exp(-s / area)

					q := (y+pad+oy)*pw + x + pad + ox
					k := y*w + x
					num[0][k] += weight * planes[0][q]
					num[1][k] += weight * planes[1][q]
					num[2][k] += weight * planes[2][q]
					den[k] += weight
				}
			}
		}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			k := y*w + x
			yy := num[0][k] / den[k]
			cb := num[1][k] / den[k]
			cr := num[2][k] / den[k]
			o := y*dst.Stride + x*4
			dst.Pix[o] = clampUint8(yy + 1.402*cr)
			dst.Pix[o+1] = clampUint8(yy - 0.344136*cb - 0.714136*cr)
			dst.Pix[o+2] = clampUint8(yy + 1.772*cb)
			dst.Pix[o+3] = src.Pix[y*src.Stride+x*4+3]
		}
	}
	return dst, nil
}

// sharpen 3x3 锐化，边界取最近像素，alpha 保留
func sharpen(img *image.NRGBA) *image.NRGBA {
	return imaging.Convolve3x3(img, SharpenKernel, nil)
}
