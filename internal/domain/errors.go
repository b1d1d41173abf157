package domain

import (
	"errors"
	"fmt"
)

// Ошибки уровня бизнес-логики. Хендлеры сопоставляют их с HTTP-статусами,
// сервисы возвращают через fmt.Errorf("%w", ...).
var (
	ErrNotFound         = errors.New("resource not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrAuth             = errors.New("authentication failed")
	ErrConflict         = errors.New("business conflict")
)

// ValidationError — отклонение входных данных: превышен лимит размера,
// недопустимый тип контента и т.п. Несёт текст для клиента.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return e.Detail
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Detail: fmt.Sprintf(format, args...)}
}
