package utils

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// 错误类型，业务层用 fmt.Errorf("...: %w", ErrXxx) 包装后返回
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrValidation   = errors.New("validation failed")
	ErrTransient    = errors.New("transient execution failure")
	ErrPersistence  = errors.New("persistence failure")
)

// DBError 将数据库错误归类：记录不存在、唯一键冲突，其余视为存储失败
func DBError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w: %v", op, ErrDuplicateKey, err)
	default:
		return fmt.Errorf("%s: %w: %v", op, ErrPersistence, err)
	}
}
