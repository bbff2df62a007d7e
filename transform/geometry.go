package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Homography 3x3 投影变换矩阵，h[8] 固定为 1
type Homography [9]float64

// Apply 变换一个点
func (m Homography) Apply(p Point) (Point, bool) {
	w := m[6]*p.X + m[7]*p.Y + m[8]
	if math.Abs(w) < 1e-12 {
		return Point{}, false
	}
	return Point{
		X: (m[0]*p.X + m[1]*p.Y + m[2]) / w,
		Y: (m[3]*p.X + m[4]*p.Y + m[5]) / w,
	}, true
}

// PerspectiveTransform 求把 src 四点映射到 dst 四点的投影变换，8 元线性方程组交给 gonum 求解
func PerspectiveTransform(src, dst [4]Point) (Homography, error) {
	if err := checkCorners(src); err != nil {
		return Homography{}, err
	}
	if err := checkCorners(dst); err != nil {
		return Homography{}, err
	}

	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := range 4 {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -x * u, -y * u})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -x * v, -y * v})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}

	var h mat.VecDense
	if err := h.SolveVec(a, b); err != nil {
		return Homography{}, fmt.Errorf("%w: %v", ErrDegenerate, err)
	}
	var m Homography
	for i := range 8 {
		m[i] = h.AtVec(i)
	}
	m[8] = 1
	return m, nil
}

// checkCorners 任意三点共线（含重合）都无法确定投影变换
func checkCorners(pts [4]Point) error {
	scale := 1.0
	for i := range pts {
		for j := i + 1; j < len(pts); j++ {
			scale = math.Max(scale, distance(pts[i], pts[j]))
		}
	}
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			for k := j + 1; k < 4; k++ {
				a, b, c := pts[i], pts[j], pts[k]
				cross := (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
				if math.Abs(cross) < 1e-9*scale*scale {
					return fmt.Errorf("%w: points %d, %d, %d are collinear", ErrDegenerate, i, j, k)
				}
			}
		}
	}
	return nil
}

func distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// RectifiedSize 校正后矩形的宽高
//
// 宽取上下两条边的较大者，高取左右两条边的较大者。
func RectifiedSize(corners [4]Point) (float64, float64) {
	width := math.Max(distance(corners[0], corners[1]), distance(corners[2], corners[3]))
	height := math.Max(distance(corners[0], corners[3]), distance(corners[1], corners[2]))
	return width, height
}

// Rectify 校验四个角点，返回输出尺寸（四舍五入）和目标矩形的四个角
func Rectify(corners [4]Point) (int, int, [4]Point, error) {
	width, height := RectifiedSize(corners)
	outW, outH := int(math.Round(width)), int(math.Round(height))
	if outW < 1 || outH < 1 {
		return 0, 0, [4]Point{}, fmt.Errorf("%w: rectified size %.2fx%.2f", ErrDegenerate, width, height)
	}
	target := [4]Point{{0, 0}, {width, 0}, {width, height}, {0, height}}
	if _, err := PerspectiveTransform(corners, target); err != nil {
		return 0, 0, [4]Point{}, err
	}
	return outW, outH, target, nil
}
