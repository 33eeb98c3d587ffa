package service

import (
	"errors"
	"strings"

	"github.com/SergeiKhy/link-preview/internal/models"
)

// Ошибки сервиса
var (
	ErrInvalidURL         = errors.New("невалидный URL")
	ErrUnsafeLink         = errors.New("ссылка не прошла проверку безопасности")
	ErrPreviewUnavailable = errors.New("не удалось загрузить превью")
	ErrPreviewNotFound    = errors.New("превью не найдено")
	ErrNoURLFound         = errors.New("в тексте нет ссылки")
)

// RejectedError: отказ валидатора вместе с его результатом
type RejectedError struct {
	Result *models.ValidationResult
}

func (e *RejectedError) Error() string {
	if e.Result == nil || len(e.Result.Errors) == 0 {
		return ErrUnsafeLink.Error()
	}
	return ErrUnsafeLink.Error() + ": " + strings.Join(e.Result.Errors, "; ")
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrUnsafeLink
}
