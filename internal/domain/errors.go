package domain

import (
	"errors"
	"fmt"
)

// ErrStaleWrite 存储层 CAS 失败（提交时版本已被他人推进）
var ErrStaleWrite = errors.New("stale write: stored version changed")

// ValidationError 输入或内容形状不合法 → 400
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func Invalid(field, reason string) error { return &ValidationError{Field: field, Reason: reason} }

// NotFoundError 目标文档/块不存在 → 404
type NotFoundError struct {
	Kind string // "portfolio" / "block" / "user"
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %s", e.Kind, e.ID) }

// UnauthorizedError 访问受保护内容但凭证缺失/错误 → 401
type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string { return e.Reason }

// ConflictError 乐观并发冲突 → 409，带回权威文档供调用方 rebase
type ConflictError struct {
	ExpectedVersion int64
	CurrentVersion  int64
	Current         *Portfolio
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, current %d", e.ExpectedVersion, e.CurrentVersion)
}

// StoreError 持久层失败 → 500
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }
