package processor

import (
	"path/filepath"
	"slices"
	"strings"
)

// SupportedFormats 批处理会处理的输入扩展名（小写）
var SupportedFormats = []string{".jpg", ".jpeg", ".png", ".bmp", ".tiff"}

// FormatSet 扩展名集合，大小写不敏感，创建后只读
type FormatSet struct {
	exts []string
}

func NewFormatSet(exts ...string) FormatSet {
	if len(exts) == 0 {
		exts = SupportedFormats
	}
	set := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if !slices.Contains(set, ext) {
			set = append(set, ext)
		}
	}
	return FormatSet{exts: set}
}

func (f FormatSet) Supports(name string) bool {
	return slices.Contains(f.exts, strings.ToLower(filepath.Ext(name)))
}

func (f FormatSet) Extensions() []string {
	return slices.Clone(f.exts)
}
