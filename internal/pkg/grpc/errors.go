package grpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Gopher0727/ChatEngine/internal/errs"
	"github.com/Gopher0727/ChatEngine/internal/services"
)

// toStatus 把领域错误映射为 gRPC 状态，reason 放在消息前缀里
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codeOf(err), fmt.Sprintf("%s: %s", errs.ReasonOf(err), errs.MessageOf(err)))
}

func codeOf(err error) codes.Code {
	switch errs.KindOf(err) {
	case errs.NotFound:
		return codes.NotFound
	case errs.Forbidden:
		return codes.PermissionDenied
	case errs.InvalidArgument:
		return codes.InvalidArgument
	case errs.Unauthenticated:
		return codes.Unauthenticated
	case errs.Conflict:
		// 邀请链接的状态冲突是前置条件不满足，其余冲突是资源已存在
		switch {
		case errors.Is(err, services.ErrInviteRevoked),
			errors.Is(err, services.ErrInviteExpired),
			errors.Is(err, services.ErrInviteLimitReached):
			return codes.FailedPrecondition
		case errors.Is(err, services.ErrBusy):
			return codes.Aborted
		}
		return codes.AlreadyExists
	default:
		return codes.Internal
	}
}
