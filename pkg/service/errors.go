package service

import (
	"context"
	"errors"
	"fmt"

	"casvault/pkg/storage"
	"casvault/pkg/types"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Kind 是 CAS 错误的分类
// 调用方按 Kind 分支 (重试 / 修正输入 / 数据缺失 / 服务端故障)，而不是按错误字符串
type Kind int

const (
	KindInternal        Kind = iota // 存储或解析的意外失败，整个请求失败
	KindNotFound                    // Digest 不在存储中
	KindInvalidArgument             // 上传内容与声明的 Digest 不符
	KindCanceled                    // 阻塞在存储调用时请求被取消 (或超时)
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindCanceled:
		return "canceled"
	default:
		return "internal"
	}
}

// Error 是带标签的 CAS 错误
// 实现了 GRPCStatus()，handler 直接返回它即可得到正确的 gRPC 状态码
type Error struct {
	Kind   Kind
	Digest types.Digest
	Cause  error

	msg        string
	violations []*errdetails.BadRequest_FieldViolation
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.Cause }

// Code 把 Kind 映射为 gRPC 状态码
func (e *Error) Code() codes.Code {
	switch e.Kind {
	case KindNotFound:
		return codes.NotFound
	case KindInvalidArgument:
		return codes.InvalidArgument
	case KindCanceled:
		// 截止时间到期和主动取消同属“可重试”，但状态码分开，方便客户端区分
		if errors.Is(e.Cause, context.DeadlineExceeded) {
			return codes.DeadlineExceeded
		}
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// GRPCStatus 供 grpc-go 的 status.FromError 使用
func (e *Error) GRPCStatus() *status.Status {
	st := status.New(e.Code(), e.msg)
	if len(e.violations) == 0 {
		return st
	}
	detailed, err := st.WithDetails(&errdetails.BadRequest{FieldViolations: e.violations})
	if err != nil {
		return st
	}
	return detailed
}

// Proto 返回用于批量响应条目的 google.rpc.Status
func (e *Error) Proto() *spb.Status {
	return e.GRPCStatus().Proto()
}

// -----------------------------------------------------------------------------
// 构造函数
// -----------------------------------------------------------------------------

func errNotFound(d types.Digest) *Error {
	return &Error{
		Kind:   KindNotFound,
		Digest: d,
		Cause:  storage.ErrNotFound,
		msg:    fmt.Sprintf("blob %s not found", d),
	}
}

func errDigestMismatch(claimed, actual types.Digest) *Error {
	msg := fmt.Sprintf("upload digest %s did not match data digest %s", claimed, actual)
	return &Error{
		Kind:       KindInvalidArgument,
		Digest:     claimed,
		msg:        msg,
		violations: []*errdetails.BadRequest_FieldViolation{{Field: "digest", Description: msg}},
	}
}

func errInvalidArgument(field, msg string) *Error {
	return &Error{
		Kind:       KindInvalidArgument,
		msg:        msg,
		violations: []*errdetails.BadRequest_FieldViolation{{Field: field, Description: msg}},
	}
}

func errCanceled(d types.Digest, cause error) *Error {
	return &Error{
		Kind:   KindCanceled,
		Digest: d,
		Cause:  cause,
		msg:    fmt.Sprintf("request interrupted while processing %s: %v", d, cause),
	}
}

func errInternal(d types.Digest, cause error) *Error {
	return &Error{
		Kind:   KindInternal,
		Digest: d,
		Cause:  cause,
		msg:    fmt.Sprintf("internal error processing %s: %v", d, cause),
	}
}

// classify 把存储层返回的错误归类
// ctx 已结束时，无论存储返回的是什么错误都视为取消
func classify(ctx context.Context, d types.Digest, err error) *Error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return errNotFound(d)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errCanceled(d, err)
	case ctx.Err() != nil:
		return errCanceled(d, ctx.Err())
	default:
		return errInternal(d, err)
	}
}

// okStatus 每次返回新对象，批量响应的条目之间不共享可变状态
func okStatus() *spb.Status {
	return &spb.Status{Code: int32(codes.OK)}
}
