//go:build !cgo || purego

package transform

// Backend 当前构建使用的变换实现
const Backend = "purego"

func DefaultEnhancer() Enhancer {
	return NewDenoiseSharpen(DefaultEnhanceParams)
}

func DefaultInpainter() Inpainter {
	return NewTeleaInpainter(DefaultInpaintRadius)
}

func DefaultWarper() PerspectiveWarper {
	return NewBilinearWarper()
}

// reflect101 边界镜像（不重复边缘像素），与 OpenCV 的 BORDER_REFLECT_101 一致
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func clampUint8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
