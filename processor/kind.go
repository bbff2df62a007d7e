package processor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chaos-io/pixfix/transform"
)

// Kind 操作类型，封闭集合
type Kind int

const (
	KindRemoveBackground Kind = iota + 1
	KindEnhance
	KindResize
	KindRemoveObjects
	KindFixPerspective
)

var Kinds = []Kind{KindRemoveBackground, KindEnhance, KindResize, KindRemoveObjects, KindFixPerspective}

var kindNames = map[Kind]string{
	KindRemoveBackground: "remove_background",
	KindEnhance:          "enhance_quality",
	KindResize:           "resize",
	KindRemoveObjects:    "remove_objects",
	KindFixPerspective:   "fix_perspective",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Slug URL 和子命令里使用的名字，例如 remove-background
func (k Kind) Slug() string {
	switch k {
	case KindEnhance:
		return "enhance"
	default:
		return strings.ReplaceAll(k.String(), "_", "-")
	}
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind 接受 remove_background / remove-background / 菜单编号 1-5，大小写不敏感
func ParseKind(s string) (Kind, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(v); err == nil {
		if k := Kind(n); k.Valid() {
			return k, nil
		}
		return 0, paramErr("parse operation", "", fmt.Errorf("unknown operation %q", s))
	}
	v = strings.ReplaceAll(v, "-", "_")
	for _, k := range Kinds {
		if v == k.String() || v == strings.ReplaceAll(k.Slug(), "-", "_") {
			return k, nil
		}
	}
	return 0, paramErr("parse operation", "", fmt.Errorf("unknown operation %q", s))
}

// Operation 一次操作及其参数，只由本包内的类型实现
type Operation interface {
	Kind() Kind
	validate() error
}

type RemoveBackground struct{}

type Enhance struct{}

// Resize Width/Height 为 0 表示未指定，至少指定一个
type Resize struct {
	Width, Height int
}

// RemoveObjects MaskPath 为空时使用默认矩形遮罩
type RemoveObjects struct {
	MaskPath string
}

// FixPerspective 四个角点依次为左上、右上、右下、左下
type FixPerspective struct {
	Corners [4]transform.Point
}

func (RemoveBackground) Kind() Kind { return KindRemoveBackground }
func (Enhance) Kind() Kind          { return KindEnhance }
func (Resize) Kind() Kind           { return KindResize }
func (RemoveObjects) Kind() Kind    { return KindRemoveObjects }
func (FixPerspective) Kind() Kind   { return KindFixPerspective }

func (RemoveBackground) validate() error { return nil }
func (Enhance) validate() error          { return nil }
func (RemoveObjects) validate() error    { return nil }
func (FixPerspective) validate() error   { return nil }

var ErrNoDimension = errors.New("at least one of width or height is required")

func (r Resize) validate() error {
	if r.Width < 0 || r.Height < 0 {
		return fmt.Errorf("negative size %dx%d", r.Width, r.Height)
	}
	if r.Width == 0 && r.Height == 0 {
		return ErrNoDimension
	}
	return nil
}

// Validate 在调用任何能力之前检查参数
func Validate(op Operation) error {
	if op == nil {
		return paramErr("validate", "", fmt.Errorf("operation is nil"))
	}
	if err := op.validate(); err != nil {
		return paramErr(op.Kind().String(), "", err)
	}
	return nil
}

// Params 边界层收集到的原始参数
type Params struct {
	Width    int
	Height   int
	MaskPath string
	Corners  []float64
}

// NewOperation 根据类型和原始参数构造 Operation
func NewOperation(kind Kind, p Params) (Operation, error) {
	var op Operation
	switch kind {
	case KindRemoveBackground:
		op = RemoveBackground{}
	case KindEnhance:
		op = Enhance{}
	case KindResize:
		op = Resize{Width: p.Width, Height: p.Height}
	case KindRemoveObjects:
		op = RemoveObjects{MaskPath: p.MaskPath}
	case KindFixPerspective:
		corners, err := ParseCorners(p.Corners)
		if err != nil {
			return nil, err
		}
		op = FixPerspective{Corners: corners}
	default:
		return nil, paramErr("new operation", "", fmt.Errorf("unknown operation %v", kind))
	}
	if err := Validate(op); err != nil {
		return nil, err
	}
	return op, nil
}

// ParseCorners 8 个数依次为 x0,y0,x1,y1,x2,y2,x3,y3
func ParseCorners(values []float64) ([4]transform.Point, error) {
	var corners [4]transform.Point
	if len(values) != 8 {
		return corners, paramErr(KindFixPerspective.String(), "",
			fmt.Errorf("exactly 4 corner points (8 numbers) required, got %d numbers", len(values)))
	}
	for i := range corners {
		corners[i] = transform.Point{X: values[2*i], Y: values[2*i+1]}
	}
	return corners, nil
}

// ParseCornersString 解析 "x,y,x,y,x,y,x,y"，允许空白和分号
func ParseCornersString(s string) ([4]transform.Point, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	values := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return [4]transform.Point{}, paramErr(KindFixPerspective.String(), "", fmt.Errorf("invalid corner value %q", f))
		}
		values = append(values, v)
	}
	return ParseCorners(values)
}
