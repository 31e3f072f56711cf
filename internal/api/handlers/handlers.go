package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/lead-dialer/internal/app"
	"github.com/acme/lead-dialer/internal/audio"
	"github.com/acme/lead-dialer/internal/dialer"
	"github.com/acme/lead-dialer/internal/repository"
	"github.com/acme/lead-dialer/internal/session"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container *app.Container
	session   *session.Manager
	ctrl      *dialer.Controller
	manual    *dialer.ManualDial
	power     *dialer.PowerDialer
	audio     *audio.Manager
	leads     repository.LeadRepository
	journal   repository.CallJournal
	stats     repository.DialStatsRepository
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	engine := container.Engine()
	return &HandlerSet{
		container: container,
		session:   engine.Session,
		ctrl:      engine.Controller,
		manual:    engine.Manual,
		power:     engine.Power,
		audio:     engine.Audio,
		leads:     container.Repositories().Leads,
		journal:   container.Repositories().Journal,
		stats:     container.Repositories().Stats,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	sess := v1.Group("/session")
	sess.Post("/connect", h.connectSession)
	sess.Post("/reconnect", h.reconnectSession)
	sess.Post("/disconnect", h.disconnectSession)
	sess.Get("/", h.sessionStatus)

	dial := v1.Group("/dial")
	dial.Post("/", h.placeCall)
	dial.Post("/hangup", h.hangup)
	dial.Post("/mute", h.mute)
	dial.Get("/", h.activeCall)

	power := v1.Group("/powerdial")
	power.Post("/start", h.startPowerDial)
	power.Post("/stop", h.stopPowerDial)
	power.Post("/skip", h.skipLead)
	power.Post("/next", h.nextLead)
	power.Post("/previous", h.previousLead)
	power.Get("/status", h.powerDialStatus)

	hist := v1.Group("/history")
	hist.Get("/", h.callHistory)
	hist.Get("/stats", h.dialStats)

	aud := v1.Group("/audio")
	aud.Post("/test/microphone", h.testMicrophone)
	aud.Post("/test/speaker", h.testSpeaker)
	aud.Put("/volume", h.setVolume)
	aud.Get("/", h.audioStatus)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if err := h.container.Postgres.DB().PingContext(healthCtx); err != nil {
		errs["postgres"] = err.Error()
	}

	if err := h.container.Redis.Inner().Ping(healthCtx).Err(); err != nil {
		errs["redis"] = err.Error()
	}

	if err := h.container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
		errs["scylla"] = err.Error()
	}

	status := fiber.StatusOK
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
	}

	return ctx.Status(status).JSON(fiber.Map{"status": "ok", "errors": errs})
}
