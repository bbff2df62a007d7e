package processor

import "time"

// ProcessingResult 单张图片的处理结果，要么完全成功，要么失败
type ProcessingResult struct {
	Kind     Kind
	Input    string
	Output   string
	Duration time.Duration
	Err      error
}

func (r ProcessingResult) Success() bool {
	return r.Err == nil
}
