//go:build !cgo || purego

package transform

import (
	"container/heap"
	"context"
	"image"
	"math"
)

const (
	flagKnown uint8 = iota
	flagBand
	flagInside
)

const insideDist = 1e6

// TeleaInpainter 基于快速行进法（Telea）的图像修补
//
// 从 mask 边界向内逐层推进，每个待修补像素用半径内已知像素加权平均，
// 权重由方向、距离和等距线水平差决定。
type TeleaInpainter struct {
	radius int
}

func NewTeleaInpainter(radius int) *TeleaInpainter {
	if radius < 1 {
		radius = DefaultInpaintRadius
	}
	return &TeleaInpainter{radius: radius}
}

func (t *TeleaInpainter) Inpaint(ctx context.Context, img image.Image, mask *image.Gray) (image.Image, error) {
	src := ToNRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if err := checkMask(src.Rect, mask); err != nil {
		return nil, err
	}

	dst := image.NewNRGBA(src.Rect)
	copy(dst.Pix, src.Pix)

	st := &fmmState{
		w:      w,
		h:      h,
		radius: t.radius,
		flags:  make([]uint8, w*h),
		dist:   make([]float64, w*h),
		img:    dst,
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if mask.Pix[y*mask.Stride+x] != 0 {
				st.flags[y*w+x] = flagInside
				st.dist[y*w+x] = insideDist
			}
		}
	}

	// 初始窄带：紧邻 mask 的已知像素
	band := &pointHeap{}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if st.flags[y*w+x] != flagKnown {
				continue
			}
			if st.touchesInside(x, y) {
				st.flags[y*w+x] = flagBand
				heap.Push(band, heapItem{x: x, y: y, t: 0})
			}
		}
	}

	steps := 0
	for band.Len() > 0 {
		steps++
		if steps%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		cur := heap.Pop(band).(heapItem)
		idx := cur.y*w + cur.x
		if st.flags[idx] == flagKnown {
			continue
		}
		st.flags[idx] = flagKnown

		for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
			nx, ny := cur.x+d[0], cur.y+d[1]
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			n := ny*w + nx
			if st.flags[n] == flagKnown {
				continue
			}
			if arr := st.arrival(nx, ny); arr < st.dist[n] {
				st.dist[n] = arr
			}
			if st.flags[n] == flagInside {
				st.flags[n] = flagBand
				st.fill(nx, ny)
			}
			heap.Push(band, heapItem{x: nx, y: ny, t: st.dist[n]})
		}
	}

	return dst, nil
}

type fmmState struct {
	w, h   int
	radius int
	flags  []uint8
	dist   []float64
	img    *image.NRGBA
}

func (s *fmmState) touchesInside(x, y int) bool {
	for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
		nx, ny := x+d[0], y+d[1]
		if nx < 0 || ny < 0 || nx >= s.w || ny >= s.h {
			continue
		}
		if s.flags[ny*s.w+nx] == flagInside {
			return true
		}
	}
	return false
}

// solve 解一阶 eikonal 方程 |∇T| = 1
func (s *fmmState) solve(x1, y1, x2, y2 int) float64 {
	t1, ok1 := s.usable(x1, y1)
	t2, ok2 := s.usable(x2, y2)
	switch {
	case ok1 && ok2:
		d := t1 - t2
		if r := 2 - d*d; r >= 0 {
			sol := (t1 + t2 + math.Sqrt(r)) / 2
			if sol >= t1 && sol >= t2 {
				return sol
			}
		}
		return 1 + math.Min(t1, t2)
	case ok1:
		return 1 + t1
	case ok2:
		return 1 + t2
	default:
		return insideDist
	}
}

func (s *fmmState) arrival(x, y int) float64 {
	return math.Min(
		math.Min(s.solve(x-1, y, x, y-1), s.solve(x+1, y, x, y-1)),
		math.Min(s.solve(x-1, y, x, y+1), s.solve(x+1, y, x, y+1)),
	)
}

// gradT 到达时间的梯度，只使用非 inside 的邻居
func (s *fmmState) gradT(x, y int) (float64, float64) {
	center := s.dist[y*s.w+x]
	axis := func(ax, ay, bx, by int) float64 {
		ta, okA := s.usable(ax, ay)
		tb, okB := s.usable(bx, by)
		switch {
		case okA && okB:
			return (tb - ta) / 2
		case okB:
			return tb - center
		case okA:
			return center - ta
		default:
			return 0
		}
	}
	return axis(x-1, y, x+1, y), axis(x, y-1, x, y+1)
}

// usable 已知或窄带上的像素，颜色与到达时间都可用
func (s *fmmState) usable(x, y int) (float64, bool) {
	if x < 0 || y < 0 || x >= s.w || y >= s.h {
		return 0, false
	}
	i := y*s.w + x
	if s.flags[i] == flagInside {
		return 0, false
	}
	return s.dist[i], true
}

// fill 用半径内已知像素的加权平均填充 (x, y)
func (s *fmmState) fill(x, y int) {
	radius := s.radius
	gx, gy := s.gradT(x, y)
	tp := s.dist[y*s.w+x]

	var sum [3]float64
	var total float64
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := x+dx, y+dy
			tn, ok := s.usable(nx, ny)
			if !ok {
				continue
			}
			d2 := float64(dx*dx + dy*dy)
			if d2 > float64(radius*radius) {
				continue
			}
			rx, ry := float64(x-nx), float64(y-ny)
			dir := rx*gx + ry*gy
			if math.Abs(dir) <= 0.01 {
				dir = 1e-6
			}
			dst := 1 / (d2 * math.Sqrt(d2))
			lev := 1 / (1 + math.Abs(tn-tp))
			weight := math.Abs(dst * lev * dir)

			i := ny*s.img.Stride + nx*4
			sum[0] += weight * float64(s.img.Pix[i])
			sum[1] += weight * float64(s.img.Pix[i+1])
			sum[2] += weight * float64(s.img.Pix[i+2])
			total += weight
		}
	}
	if total == 0 {
		return
	}

	o := y*s.img.Stride + x*4
	s.img.Pix[o] = clampUint8(sum[0] / total)
	s.img.Pix[o+1] = clampUint8(sum[1] / total)
	s.img.Pix[o+2] = clampUint8(sum[2] / total)
}

type heapItem struct {
	x, y int
	t    float64
}

type pointHeap []heapItem

func (h pointHeap) Len() int           { return len(h) }
func (h pointHeap) Less(i, j int) bool { return h[i].t < h[j].t }
func (h pointHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *pointHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *pointHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
