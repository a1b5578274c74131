package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/TheMacroeconomicDao/buildify-platform-sub006/internal/model"
)

func TestValidateOrderInput(t *testing.T) {
	tests := []struct {
		name      string
		title     string
		direction string
		city      string
		maxAmount int64
		wantField string
	}{
		{
			name:      "valid order",
			title:     "Ремонт ванной",
			direction: "renovation",
			city:      "Москва",
			maxAmount: 500000,
		},
		{
			name:      "empty title",
			title:     "   ",
			direction: "renovation",
			city:      "Москва",
			maxAmount: 500000,
			wantField: "title",
		},
		{
			name:      "title too long",
			title:     strings.Repeat("а", 256),
			direction: "renovation",
			city:      "Москва",
			maxAmount: 500000,
			wantField: "title",
		},
		{
			name:      "empty direction",
			title:     "Ремонт ванной",
			direction: "",
			city:      "Москва",
			maxAmount: 500000,
			wantField: "direction",
		},
		{
			name:      "empty city",
			title:     "Ремонт ванной",
			direction: "renovation",
			city:      "",
			maxAmount: 500000,
			wantField: "city",
		},
		{
			name:      "zero budget",
			title:     "Ремонт ванной",
			direction: "renovation",
			city:      "Москва",
			maxAmount: 0,
			wantField: "max_amount",
		},
		{
			name:      "negative budget",
			title:     "Ремонт ванной",
			direction: "renovation",
			city:      "Москва",
			maxAmount: -100,
			wantField: "max_amount",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrderInput(tt.title, tt.direction, tt.city, tt.maxAmount)

			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			var vErr *model.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Field != tt.wantField {
				t.Fatalf("expected error for field %q, got %q", tt.wantField, vErr.Field)
			}
		})
	}
}
