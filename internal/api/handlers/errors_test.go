package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/lead-dialer/internal/repository"
	apperrors "github.com/acme/lead-dialer/pkg/errors"
)

func TestTranslateError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"validation", fmt.Errorf("%w: phone number is required", apperrors.ErrValidation), http.StatusBadRequest},
		{"unsupported mode", apperrors.ErrUnsupportedMode, http.StatusBadRequest},
		{"permission denied", fmt.Errorf("audio: %w", apperrors.ErrPermissionDenied), http.StatusForbidden},
		{"not found", repository.ErrNotFound, http.StatusNotFound},
		{"call active", apperrors.ErrCallActive, http.StatusConflict},
		{"conflict", apperrors.ErrConflict, http.StatusConflict},
		{"session down", apperrors.ErrSessionDown, http.StatusServiceUnavailable},
		{"gateway unavailable", fmt.Errorf("gateway: %w", apperrors.ErrUnavailable), http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			translated := translateError(tc.err)
			var fe *fiber.Error
			if !errors.As(translated, &fe) {
				t.Fatalf("expected fiber error, got %T", translated)
			}
			if fe.Code != tc.code {
				t.Fatalf("expected status %d, got %d", tc.code, fe.Code)
			}
		})
	}
}

func TestTranslateErrorPassthrough(t *testing.T) {
	if translateError(nil) != nil {
		t.Fatal("nil must stay nil")
	}

	unknown := errors.New("kafka write failed")
	if translated := translateError(unknown); translated != unknown {
		t.Fatalf("unknown errors must pass through, got %v", translated)
	}
}

func TestNotFoundMessageDoesNotLeakDetail(t *testing.T) {
	wrapped := fmt.Errorf("lead %s: %w", "b2f1", repository.ErrNotFound)
	var fe *fiber.Error
	if !errors.As(translateError(wrapped), &fe) {
		t.Fatal("expected fiber error")
	}
	if fe.Message != "resource not found" {
		t.Fatalf("internal detail leaked: %q", fe.Message)
	}
}
