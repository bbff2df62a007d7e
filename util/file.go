package util

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// JPEGQuality 写出 jpeg 时使用的质量
const JPEGQuality = 95

var ErrUnsupportedFormat = errors.New("unsupported output format")

// DecodeImage 按内容解码图片（png/jpeg/gif/bmp/tiff/webp）
func DecodeImage(r io.Reader) (image.Image, string, error) {
	return image.Decode(r)
}

// EncodeImage 按扩展名选择编码器写出图片
func EncodeImage(w io.Writer, img image.Image, ext string) error {
	switch strings.ToLower(ext) {
	case ".png":
		return png.Encode(w, img)
	case ".jpg", ".jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality})
	case ".bmp":
		return bmp.Encode(w, img)
	case ".tif", ".tiff":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// Encodable 判断扩展名是否有对应的编码器
func Encodable(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff":
		return true
	}
	return false
}

// OpenImage 打开本地图片
func OpenImage(fs afero.Fs, path string) (image.Image, error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = file.Close()
	}()

	img, _, err := DecodeImage(file)
	return img, err
}

// SaveImage 写出图片，格式由扩展名决定；失败时删除半成品
func SaveImage(fs afero.Fs, path string, img image.Image) error {
	f, err := fs.Create(path)
	if err != nil {
		return err
	}

	if err := EncodeImage(f, img, filepath.Ext(path)); err != nil {
		_ = f.Close()
		_ = fs.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		_ = fs.Remove(path)
		return err
	}
	return nil
}
