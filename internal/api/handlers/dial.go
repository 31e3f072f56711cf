package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/lead-dialer/internal/domain"
)

type placeCallRequest struct {
	PhoneNumber string `json:"phone_number"`
	LeadID      string `json:"lead_id,omitempty"`
	Mode        string `json:"mode,omitempty"`
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

type activeCallResponse struct {
	SID            string           `json:"sid,omitempty"`
	PhoneNumber    string           `json:"phone_number"`
	LeadID         *uuid.UUID       `json:"lead_id,omitempty"`
	State          domain.CallState `json:"state"`
	Mode           domain.CallMode  `json:"mode"`
	ConferenceName string           `json:"conference_name,omitempty"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	DurationMs     int64            `json:"duration_ms"`
	Muted          bool             `json:"muted"`
	LastError      string           `json:"last_error,omitempty"`
}

func toActiveCallResponse(call domain.ActiveCall) activeCallResponse {
	resp := activeCallResponse{
		SID:            call.SID,
		PhoneNumber:    call.PhoneNumber,
		LeadID:         call.LeadID,
		State:          call.State,
		Mode:           call.Mode,
		ConferenceName: call.ConferenceName,
		DurationMs:     call.Duration.Milliseconds(),
		Muted:          call.Muted,
		LastError:      call.LastError,
	}
	if !call.StartedAt.IsZero() {
		started := call.StartedAt
		resp.StartedAt = &started
	}
	return resp
}

func (h *HandlerSet) placeCall(ctx *fiber.Ctx) error {
	var req placeCallRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	var leadID *uuid.UUID
	if req.LeadID != "" {
		parsed, err := uuid.Parse(req.LeadID)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid lead_id")
		}
		leadID = &parsed
	}

	call, err := h.manual.Dial(ctx.Context(), req.PhoneNumber, leadID, domain.CallMode(req.Mode))
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(toActiveCallResponse(call))
}

func (h *HandlerSet) hangup(ctx *fiber.Ctx) error {
	if err := h.manual.Hangup(ctx.Context()); err != nil {
		return translateError(err)
	}
	return ctx.Status(fiber.StatusOK).JSON(toActiveCallResponse(h.ctrl.LastCall()))
}

func (h *HandlerSet) mute(ctx *fiber.Ctx) error {
	var req muteRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.ctrl.SetMuted(ctx.Context(), req.Muted); err != nil {
		return translateError(err)
	}
	call, _ := h.ctrl.Active()
	return ctx.Status(fiber.StatusOK).JSON(toActiveCallResponse(call))
}

func (h *HandlerSet) activeCall(ctx *fiber.Ctx) error {
	call, ok := h.ctrl.Active()
	if !ok {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"active": false, "last": toActiveCallResponse(h.ctrl.LastCall())})
	}
	return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"active": true, "call": toActiveCallResponse(call)})
}
