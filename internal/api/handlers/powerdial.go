package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/lead-dialer/internal/dialer"
	"github.com/acme/lead-dialer/internal/domain"
)

type startPowerDialRequest struct {
	LeadLimit     int `json:"lead_limit,omitempty"`
	PacingSeconds int `json:"pacing_seconds,omitempty"`
}

type runStatusResponse struct {
	Running       bool           `json:"running"`
	CurrentIndex  int            `json:"current_index"`
	TotalLeads    int            `json:"total_leads"`
	PacingSeconds int            `json:"pacing_seconds"`
	LastStop      string         `json:"last_stop,omitempty"`
	Leads         []leadResponse `json:"leads,omitempty"`
}

type leadResponse struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Phone   string            `json:"phone"`
	Company string            `json:"company,omitempty"`
	Status  domain.LeadStatus `json:"status"`
}

func toRunStatusResponse(status dialer.RunStatus, leads []domain.Lead) runStatusResponse {
	resp := runStatusResponse{
		Running:       status.Running,
		CurrentIndex:  status.CurrentIndex,
		TotalLeads:    status.TotalLeads,
		PacingSeconds: status.PacingSeconds,
		LastStop:      status.LastStop,
	}
	for _, lead := range leads {
		resp.Leads = append(resp.Leads, leadResponse{
			ID:      lead.ID.String(),
			Name:    lead.Name,
			Phone:   lead.Phone,
			Company: lead.Company,
			Status:  lead.Status,
		})
	}
	return resp
}

func (h *HandlerSet) startPowerDial(ctx *fiber.Ctx) error {
	var req startPowerDialRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
	}

	leads, err := h.leads.NextQueue(ctx.Context(), req.LeadLimit)
	if err != nil {
		return translateError(err)
	}

	if err := h.power.Start(ctx.Context(), leads, req.PacingSeconds); err != nil {
		return translateError(err)
	}
	return ctx.Status(fiber.StatusOK).JSON(toRunStatusResponse(h.power.Status(), h.power.Leads()))
}

func (h *HandlerSet) stopPowerDial(ctx *fiber.Ctx) error {
	h.power.Stop(ctx.Context())
	return ctx.Status(fiber.StatusOK).JSON(toRunStatusResponse(h.power.Status(), nil))
}

func (h *HandlerSet) skipLead(ctx *fiber.Ctx) error {
	if err := h.power.Skip(ctx.Context()); err != nil {
		return translateError(err)
	}
	return ctx.Status(fiber.StatusOK).JSON(toRunStatusResponse(h.power.Status(), nil))
}

func (h *HandlerSet) nextLead(ctx *fiber.Ctx) error {
	if err := h.power.Next(); err != nil {
		return translateError(err)
	}
	return ctx.Status(fiber.StatusOK).JSON(toRunStatusResponse(h.power.Status(), nil))
}

func (h *HandlerSet) previousLead(ctx *fiber.Ctx) error {
	if err := h.power.Previous(); err != nil {
		return translateError(err)
	}
	return ctx.Status(fiber.StatusOK).JSON(toRunStatusResponse(h.power.Status(), nil))
}

func (h *HandlerSet) powerDialStatus(ctx *fiber.Ctx) error {
	return ctx.Status(fiber.StatusOK).JSON(toRunStatusResponse(h.power.Status(), h.power.Leads()))
}
