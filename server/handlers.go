package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"

	"github.com/chaos-io/pixfix/processor"
)

// 上传接口接受的内容类型及其扩展名
var uploadTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/bmp":  ".bmp",
	"image/tiff": ".tiff",
}

func detail(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"detail": msg})
}

func (s *Server) root(c *gin.Context) {
	endpoints := []string{"/photos - List available sample images"}
	for _, kind := range processor.Kinds {
		endpoints = append(endpoints, fmt.Sprintf("/process/{photo_id}/%s - %s", kind.Slug(), describe(kind)))
	}
	endpoints = append(endpoints,
		"/photos/{photo_id}/view - View a sample image",
		"/upload/{operation} - Process an uploaded image",
	)
	c.JSON(http.StatusOK, gin.H{
		"title":     Title,
		"version":   APIVersion,
		"endpoints": endpoints,
	})
}

func describe(kind processor.Kind) string {
	switch kind {
	case processor.KindRemoveBackground:
		return "Remove image background"
	case processor.KindEnhance:
		return "Enhance image quality"
	case processor.KindResize:
		return "Resize image"
	case processor.KindRemoveObjects:
		return "Remove unwanted objects"
	case processor.KindFixPerspective:
		return "Fix perspective distortion"
	default:
		return kind.String()
	}
}

func (s *Server) listPhotos(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit < 0 {
		detail(c, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	c.JSON(http.StatusOK, s.catalog.List(limit))
}

func (s *Server) lookup(c *gin.Context) (Photo, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		detail(c, http.StatusBadRequest, "photo id must be an integer")
		return Photo{}, false
	}
	photo, ok := s.catalog.Get(id)
	if !ok {
		detail(c, http.StatusNotFound, "Photo not found")
		return Photo{}, false
	}
	return photo, true
}

// fetch 下载并写入临时文件，返回路径
func (s *Server) fetch(c *gin.Context, url, prefix string) (string, bool) {
	data, err := s.fetcher.Fetch(c.Request.Context(), url)
	if err != nil {
		_ = c.Error(err)
		if errors.Is(err, ErrImageNotFound) {
			detail(c, http.StatusNotFound, "Image not found")
		} else {
			detail(c, http.StatusBadGateway, "Failed to fetch image")
		}
		return "", false
	}

	ext, ok := uploadTypes[mimetype.Detect(data).String()]
	if !ok {
		ext = ".jpg"
	}
	path, err := s.stager.Write(prefix, ext, data)
	if err != nil {
		_ = c.Error(err)
		detail(c, http.StatusInternalServerError, "Failed to stage image")
		return "", false
	}
	return path, true
}

func (s *Server) viewPhoto(c *gin.Context) {
	photo, ok := s.lookup(c)
	if !ok {
		return
	}
	path, ok := s.fetch(c, photo.URL, fmt.Sprintf("view_%d", photo.ID))
	if !ok {
		return
	}
	s.serveFile(c, path)
}

// operationFromQuery 从查询参数构造操作，参数错误时返回 400
func operationFromQuery(c *gin.Context, kind processor.Kind, maskPath string) (processor.Operation, bool) {
	params := processor.Params{MaskPath: maskPath}
	for name, dst := range map[string]*int{"width": &params.Width, "height": &params.Height} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			detail(c, http.StatusBadRequest, name+" must be an integer")
			return nil, false
		}
		*dst = v
	}
	if kind == processor.KindFixPerspective {
		corners, err := processor.ParseCornersString(c.Query("corners"))
		if err != nil {
			detail(c, http.StatusBadRequest, err.Error())
			return nil, false
		}
		return processor.FixPerspective{Corners: corners}, true
	}

	op, err := processor.NewOperation(kind, params)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, processor.ErrNoDimension) {
			msg = "Either width or height must be specified"
		}
		detail(c, http.StatusBadRequest, msg)
		return nil, false
	}
	return op, true
}

// outputExt 去背景输出 png，其余输出 jpeg
func outputExt(kind processor.Kind) string {
	if kind == processor.KindRemoveBackground {
		return ".png"
	}
	return ".jpg"
}

var outputPrefixes = map[processor.Kind]string{
	processor.KindRemoveBackground: "output",
	processor.KindEnhance:          "enhanced",
	processor.KindResize:           "resized",
	processor.KindRemoveObjects:    "cleaned",
	processor.KindFixPerspective:   "corrected",
}

func (s *Server) processPhoto(kind processor.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		op, ok := operationFromQuery(c, kind, "")
		if !ok {
			return
		}
		photo, ok := s.lookup(c)
		if !ok {
			return
		}
		input, ok := s.fetch(c, photo.ThumbnailURL, fmt.Sprintf("input_%d", photo.ID))
		if !ok {
			return
		}
		output := s.stager.Path(fmt.Sprintf("%s_%d", outputPrefixes[kind], photo.ID), outputExt(kind))
		s.runAndServe(c, op, input, output)
	}
}

func (s *Server) runAndServe(c *gin.Context, op processor.Operation, input, output string) {
	res := s.proc.Process(c.Request.Context(), op, input, output)
	if !res.Success() {
		_ = c.Error(res.Err)
		if errors.Is(res.Err, processor.ErrParameter) {
			detail(c, http.StatusBadRequest, res.Err.Error())
			return
		}
		detail(c, http.StatusInternalServerError, "Failed to process image")
		return
	}
	s.serveFile(c, res.Output)
}

func (s *Server) serveFile(c *gin.Context, path string) {
	data, err := afero.ReadFile(s.stager.Fs(), path)
	if err != nil {
		_ = c.Error(err)
		detail(c, http.StatusInternalServerError, "Failed to read image")
		return
	}
	c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
}

// readUpload 读取表单文件并校验内容类型，返回数据和扩展名
func (s *Server) readUpload(c *gin.Context, field string) ([]byte, string, int, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, "", http.StatusBadRequest, fmt.Errorf("missing form file %q: %w", field, err)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", http.StatusBadRequest, fmt.Errorf("open form file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", http.StatusBadRequest, fmt.Errorf("read form file: %w", err)
	}
	mt := mimetype.Detect(data)
	ext, ok := uploadTypes[mt.String()]
	if !ok {
		return nil, "", http.StatusUnsupportedMediaType, fmt.Errorf("unsupported content type %s", mt.String())
	}
	return data, ext, 0, nil
}

// upload 处理上传的图片，remove-objects 可以额外上传 mask
func (s *Server) upload(c *gin.Context) {
	kind, err := processor.ParseKind(c.Param("operation"))
	if err != nil {
		detail(c, http.StatusNotFound, err.Error())
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	data, ext, code, err := s.readUpload(c, "file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			code = http.StatusRequestEntityTooLarge
		}
		detail(c, code, err.Error())
		return
	}

	var maskPath string
	if kind == processor.KindRemoveObjects {
		if _, err := c.FormFile("mask"); err == nil {
			mask, maskExt, code, err := s.readUpload(c, "mask")
			if err != nil {
				detail(c, code, err.Error())
				return
			}
			if maskPath, err = s.stager.Write("mask", maskExt, mask); err != nil {
				_ = c.Error(err)
				detail(c, http.StatusInternalServerError, "Failed to stage image")
				return
			}
		}
	}

	op, ok := operationFromQuery(c, kind, maskPath)
	if !ok {
		return
	}
	input, err := s.stager.Write("upload", ext, data)
	if err != nil {
		_ = c.Error(err)
		detail(c, http.StatusInternalServerError, "Failed to stage image")
		return
	}
	outExt := ext
	if kind == processor.KindRemoveBackground {
		outExt = ".png"
	}
	output := s.stager.Path(outputPrefixes[kind]+"_upload", outExt)
	s.runAndServe(c, op, input, output)
}
