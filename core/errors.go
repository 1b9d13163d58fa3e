package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	DispatchErrorBadInput     = "DISPATCH_BAD_INPUT"
	DispatchErrorNotFound     = "DISPATCH_NOT_FOUND"
	DispatchErrorInvalidCron  = "DISPATCH_INVALID_CRON"
	DispatchErrorStoreFailed  = "DISPATCH_STORE_FAILED"
	DispatchErrorNotifyFailed = "DISPATCH_NOTIFY_FAILED"
	DispatchErrorInternal     = "DISPATCH_INTERNAL_ERROR"
)

func dispatchErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureDispatchErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case errors.Is(err, ErrInvalidCronExpression):
		return newDispatchError(err.Error(), goerrors.CategoryBadInput, DispatchErrorInvalidCron)
	case errors.Is(err, ErrEventNotFound),
		errors.Is(err, ErrDeliveryNotFound),
		errors.Is(err, ErrSubscriptionNotFound):
		return newDispatchError(err.Error(), goerrors.CategoryNotFound, DispatchErrorNotFound)
	case strings.Contains(msg, "not found"):
		return newDispatchError(err.Error(), goerrors.CategoryNotFound, DispatchErrorNotFound)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newDispatchError(err.Error(), goerrors.CategoryBadInput, DispatchErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureDispatchErrorEnvelope(mapped)
}

func newDispatchError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureDispatchErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureDispatchErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = dispatchHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultDispatchTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultDispatchTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return DispatchErrorBadInput
	case goerrors.CategoryNotFound:
		return DispatchErrorNotFound
	case goerrors.CategoryOperation:
		return DispatchErrorNotifyFailed
	case goerrors.CategoryExternal:
		return DispatchErrorStoreFailed
	default:
		return DispatchErrorInternal
	}
}

func dispatchHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
