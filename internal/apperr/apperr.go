// Package apperr 定义了带分类的业务错误，调用方通过 errors.As 区分输入错误与上游故障。
package apperr

import (
	"errors"
	"fmt"
)

// Kind 标识错误的类别。
type Kind int

const (
	// KindUpstream 表示 embedding、向量库或 LLM 等上游服务调用失败，也是未分类错误的默认类别。
	KindUpstream Kind = iota
	// KindValidation 表示可由用户纠正的输入错误。
	KindValidation
	// KindNotFound 表示上游返回了空结果（例如文件没有产生任何向量）。
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	default:
		return "upstream"
	}
}

// Error 是带分类的错误。Message 可以直接返回给用户，Err 中的细节只用于日志。
type Error struct {
	Kind    Kind
	Op      string
	File    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = fmt.Sprintf("%s (file=%s)", msg, e.File)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation 创建一个输入错误。
func Validation(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

// NotFound 创建一个空结果错误。
func NotFound(op, file, message string) *Error {
	return &Error{Kind: KindNotFound, Op: op, File: file, Message: message}
}

// Upstream 包装一个上游调用失败。
func Upstream(op, file string, err error) *Error {
	return &Error{Kind: KindUpstream, Op: op, File: file, Message: "upstream call failed", Err: err}
}

// KindOf 返回错误链中第一个 *Error 的类别，找不到时按上游故障处理。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUpstream
}

// MessageOf 返回可展示给用户的信息，找不到 *Error 时返回 fallback。
func MessageOf(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}
