package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/lead-dialer/internal/domain"
	"github.com/acme/lead-dialer/internal/repository"
)

const dayFormat = "2006-01-02"

type callRecordResponse struct {
	ID          uuid.UUID          `json:"id"`
	CallSID     string             `json:"call_sid"`
	LeadID      *uuid.UUID         `json:"lead_id,omitempty"`
	PhoneNumber string             `json:"phone_number"`
	Outcome     domain.CallOutcome `json:"outcome"`
	DurationMs  int64              `json:"duration_ms"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	EndedAt     time.Time          `json:"ended_at"`
}

type callHistoryResponse struct {
	Identity string               `json:"identity"`
	Day      string               `json:"day"`
	Calls    []callRecordResponse `json:"calls"`
	NextPage string               `json:"next_page,omitempty"`
}

type dialStatsResponse struct {
	Identity       string `json:"identity"`
	Day            string `json:"day"`
	CallsPlaced    int64  `json:"calls_placed"`
	CallsConnected int64  `json:"calls_connected"`
	CallsFailed    int64  `json:"calls_failed"`
	TalkTimeMs     int64  `json:"talk_time_ms"`
}

func queryDay(ctx *fiber.Ctx) (time.Time, error) {
	raw := ctx.Query("day")
	if raw == "" {
		return time.Now().UTC(), nil
	}
	day, err := time.Parse(dayFormat, raw)
	if err != nil {
		return time.Time{}, fiber.NewError(http.StatusBadRequest, "day must be YYYY-MM-DD")
	}
	return day, nil
}

func (h *HandlerSet) callHistory(ctx *fiber.Ctx) error {
	day, err := queryDay(ctx)
	if err != nil {
		return err
	}

	limit := ctx.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		return fiber.NewError(http.StatusBadRequest, "limit must be between 1 and 500")
	}

	var pagingState []byte
	if token := ctx.Query("page"); token != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(token)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid page token")
		}
		pagingState = decoded
	}

	records, next, err := h.journal.ListByIdentity(ctx.Context(), h.session.Identity(), day, limit, pagingState)
	if err != nil {
		return translateError(err)
	}

	resp := callHistoryResponse{
		Identity: h.session.Identity(),
		Day:      day.Format(dayFormat),
		Calls:    make([]callRecordResponse, 0, len(records)),
	}
	for _, r := range records {
		resp.Calls = append(resp.Calls, callRecordResponse{
			ID:          r.ID,
			CallSID:     r.CallSID,
			LeadID:      r.LeadID,
			PhoneNumber: r.PhoneNumber,
			Outcome:     r.Outcome,
			DurationMs:  r.Duration.Milliseconds(),
			Error:       r.Error,
			StartedAt:   r.StartedAt,
			EndedAt:     r.EndedAt,
		})
	}
	if len(next) > 0 {
		resp.NextPage = base64.RawURLEncoding.EncodeToString(next)
	}
	return ctx.JSON(resp)
}

func (h *HandlerSet) dialStats(ctx *fiber.Ctx) error {
	day, err := queryDay(ctx)
	if err != nil {
		return err
	}

	resp := dialStatsResponse{
		Identity: h.session.Identity(),
		Day:      day.Format(dayFormat),
	}

	stats, err := h.stats.Get(ctx.Context(), h.session.Identity(), day)
	if err != nil {
		// A day with no dials has no row; report zero counters.
		if errors.Is(err, repository.ErrNotFound) {
			return ctx.JSON(resp)
		}
		return translateError(err)
	}

	resp.CallsPlaced = stats.CallsPlaced
	resp.CallsConnected = stats.CallsConnected
	resp.CallsFailed = stats.CallsFailed
	resp.TalkTimeMs = stats.TalkTime.Milliseconds()
	return ctx.JSON(resp)
}
