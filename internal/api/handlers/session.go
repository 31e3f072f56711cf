package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/acme/lead-dialer/internal/domain"
)

type sessionResponse struct {
	Identity  string               `json:"identity"`
	Status    domain.SessionStatus `json:"status"`
	LastError string               `json:"last_error,omitempty"`
}

func toSessionResponse(snapshot domain.DialSession) sessionResponse {
	return sessionResponse{
		Identity:  snapshot.Identity,
		Status:    snapshot.Status,
		LastError: snapshot.LastError,
	}
}

func (h *HandlerSet) connectSession(ctx *fiber.Ctx) error {
	if err := h.session.Connect(ctx.Context()); err != nil {
		return translateError(err)
	}
	return ctx.Status(fiber.StatusOK).JSON(toSessionResponse(h.session.Snapshot()))
}

// reconnectSession tears down the current client and registers a fresh one
// with a new token. It recovers sessions stuck in the error state.
func (h *HandlerSet) reconnectSession(ctx *fiber.Ctx) error {
	return h.connectSession(ctx)
}

func (h *HandlerSet) disconnectSession(ctx *fiber.Ctx) error {
	h.power.Stop(ctx.Context())
	h.ctrl.Teardown(ctx.Context())
	h.session.Close()
	return ctx.Status(fiber.StatusOK).JSON(toSessionResponse(h.session.Snapshot()))
}

func (h *HandlerSet) sessionStatus(ctx *fiber.Ctx) error {
	return ctx.Status(fiber.StatusOK).JSON(toSessionResponse(h.session.Snapshot()))
}
