// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode/utf8"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
)

const (
	maxTitleLen     = 255
	maxDirectionLen = 100
	maxCityLen      = 100
)

// ValidateOrderInput проверяет обязательные поля нового заказа.
// Возвращает ValidationError для первого некорректного поля.
func ValidateOrderInput(title, direction, city string, maxAmount int64) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return model.NewValidationError("title", "must not be empty")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return model.NewValidationError("title", "too long")
	}

	if strings.TrimSpace(direction) == "" {
		return model.NewValidationError("direction", "must not be empty")
	}
	if utf8.RuneCountInString(direction) > maxDirectionLen {
		return model.NewValidationError("direction", "too long")
	}

	if strings.TrimSpace(city) == "" {
		return model.NewValidationError("city", "must not be empty")
	}
	if utf8.RuneCountInString(city) > maxCityLen {
		return model.NewValidationError("city", "too long")
	}

	if maxAmount <= 0 {
		return model.NewValidationError("max_amount", "must be positive")
	}

	return nil
}
