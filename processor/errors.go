package processor

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	// DecodeError 输入无法解析为图片
	DecodeError ErrorKind = iota + 1
	// CapabilityError 底层变换能力失败或结果不可用
	CapabilityError
	// ParameterError 缺少或非法的参数，在调用能力之前拒绝
	ParameterError
	// IOError 读写文件或目录失败
	IOError
)

func (k ErrorKind) String() string {
	switch k {
	case DecodeError:
		return "decode"
	case CapabilityError:
		return "capability"
	case ParameterError:
		return "parameter"
	case IOError:
		return "io"
	default:
		return "unknown"
	}
}

// 与 errors.Is 配合使用的哨兵错误
var (
	ErrDecode     = errors.New("decode error")
	ErrCapability = errors.New("capability error")
	ErrParameter  = errors.New("parameter error")
	ErrIO         = errors.New("io error")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case DecodeError:
		return ErrDecode
	case CapabilityError:
		return ErrCapability
	case ParameterError:
		return ErrParameter
	case IOError:
		return ErrIO
	default:
		return nil
	}
}

// ProcessingError 单张图片处理失败的分类错误
type ProcessingError struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func (e *ProcessingError) Error() string {
	msg := e.Op + ": " + e.Kind.String() + " error"
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

func (e *ProcessingError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf 取出错误链中的 ErrorKind，没有则返回 0
func KindOf(err error) ErrorKind {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

func newErr(kind ErrorKind, op, path string, err error) *ProcessingError {
	return &ProcessingError{Kind: kind, Op: op, Path: path, Err: err}
}

func paramErr(op, path string, err error) *ProcessingError {
	return newErr(ParameterError, op, path, err)
}

func ioErr(op, path string, err error) *ProcessingError {
	return newErr(IOError, op, path, err)
}

func decodeErr(op, path string, err error) *ProcessingError {
	return newErr(DecodeError, op, path, err)
}

func capabilityErr(op, path string, err error) *ProcessingError {
	return newErr(CapabilityError, op, path, err)
}

// recoveredErr 把 panic 转成 CapabilityError
func recoveredErr(op, path string, v any) *ProcessingError {
	return capabilityErr(op, path, fmt.Errorf("panic: %v", v))
}
