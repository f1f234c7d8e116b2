package api

import (
	"errors"

	"connectrpc.com/connect"
	"github.com/go-playground/validator/v10"

	"github.com/floroz/marketalloc/internal/domain/waitlist"
	"github.com/floroz/marketalloc/pkg/apperrors"
)

// ReasonHeader carries the stable rejection reason on error responses
const ReasonHeader = "Rejection-Reason"

const reasonInvalidRequest = "INVALID_REQUEST"

// toConnectError maps the error kind to a connect code and attaches the reason
func toConnectError(err error) *connect.Error {
	var code connect.Code
	kind, _ := apperrors.KindOf(err)
	switch kind {
	case apperrors.KindValidation:
		code = connect.CodeInvalidArgument
	case apperrors.KindNotFound:
		code = connect.CodeNotFound
	case apperrors.KindConflict:
		code = connect.CodeFailedPrecondition
		if errors.Is(err, waitlist.ErrAlreadyQueued) {
			code = connect.CodeAlreadyExists
		}
	default:
		code = connect.CodeInternal
	}

	connectErr := connect.NewError(code, err)
	if reason := apperrors.ReasonOf(err); reason != "" {
		connectErr.Meta().Set(ReasonHeader, reason)
	}
	return connectErr
}

func invalidRequest(err error) *connect.Error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		err = errors.New(verrs[0].Field() + " failed " + verrs[0].Tag() + " validation")
	}
	connectErr := connect.NewError(connect.CodeInvalidArgument, err)
	connectErr.Meta().Set(ReasonHeader, reasonInvalidRequest)
	return connectErr
}

// ReasonOf returns the rejection reason of an error returned by a client
func ReasonOf(err error) string {
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return connectErr.Meta().Get(ReasonHeader)
	}
	return ""
}
