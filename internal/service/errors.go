// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"
	"fmt"
)

// 错误分类。具体错误通过 wrapError 包装，调用方用 errors.Is 判断类别。
var (
	ErrValidation      = errors.New("validation failed")
	ErrUnauthenticated = errors.New("authentication failed")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrExternalService = errors.New("external service failure")
	ErrConflict        = errors.New("conflict")

	ErrUserNotFound    = fmt.Errorf("user %w", ErrNotFound)
	ErrSessionNotFound = fmt.Errorf("user session %w", ErrNotFound)
	ErrTurnNotFound    = fmt.Errorf("message %w", ErrNotFound)
	ErrSessionBusy     = fmt.Errorf("session is busy with another turn: %w", ErrConflict)
)

// wrapError 生成 "<operation>: <kind>: <cause>" 形式的错误，同时保留 kind 与 cause 两条错误链。
func wrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

// validationError 生成一个带说明的 ErrValidation。
func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
