package processor

import (
	"path/filepath"
	"strconv"
	"strings"
)

// ForcePNG 把扩展名替换为 .png
func ForcePNG(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".png"
}

// OutputName 批处理中输入文件对应的输出文件名
func OutputName(kind Kind, name string) string {
	if kind == KindRemoveBackground {
		return ForcePNG(name)
	}
	return name
}

var outputPrefixes = map[Kind]string{
	KindRemoveBackground: "no_bg_",
	KindEnhance:          "enhanced_",
	KindResize:           "resized_",
	KindRemoveObjects:    "cleaned_",
	KindFixPerspective:   "corrected_",
}

// DefaultOutputPath 单张处理时的默认输出路径，如 output_images/no_bg_photo.png
func DefaultOutputPath(dir string, kind Kind, input string) string {
	name := outputPrefixes[kind] + filepath.Base(input)
	return filepath.Join(dir, OutputName(kind, name))
}

// dedupe 对重名的输出加 _1、_2 后缀，names 顺序不变
//
// reserved 里的名字（小写）视为已被占用，只有 names[i] 对应的输入 inputs[i] 自己可以复用，
// 这样输入输出在同一目录时不会覆盖别的输入文件。
func dedupe(names, inputs []string, reserved map[string]bool) []string {
	out := make([]string, len(names))
	used := make(map[string]bool, len(names))
	taken := func(i int, candidate string) bool {
		key := strings.ToLower(candidate)
		if used[key] {
			return true
		}
		return reserved[key] && (i >= len(inputs) || key != strings.ToLower(inputs[i]))
	}
	for i, name := range names {
		candidate := name
		ext := filepath.Ext(name)
		stem := strings.TrimSuffix(name, ext)
		for n := 1; taken(i, candidate); n++ {
			candidate = stem + "_" + strconv.Itoa(n) + ext
		}
		used[strings.ToLower(candidate)] = true
		out[i] = candidate
	}
	return out
}

// sameDir 两个路径是否指向同一目录（不解析符号链接）
func sameDir(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
