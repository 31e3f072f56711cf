package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/lead-dialer/internal/domain"
)

type volumeRequest struct {
	Percent int `json:"percent"`
}

type audioStateResponse struct {
	MicrophoneTest domain.AudioTestStatus `json:"microphone_test"`
	SpeakerTest    domain.AudioTestStatus `json:"speaker_test"`
	InputLevel     int                    `json:"input_level"`
	VolumePercent  int                    `json:"volume_percent"`
	LastError      string                 `json:"last_error,omitempty"`
}

func toAudioStateResponse(state domain.AudioState) audioStateResponse {
	return audioStateResponse{
		MicrophoneTest: state.MicrophoneTest,
		SpeakerTest:    state.SpeakerTest,
		InputLevel:     state.InputLevel,
		VolumePercent:  state.VolumePercent,
		LastError:      state.LastError,
	}
}

func (h *HandlerSet) testMicrophone(ctx *fiber.Ctx) error {
	status, err := h.audio.TestMicrophone(ctx.Context())
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": status,
		"state":  toAudioStateResponse(h.audio.Snapshot()),
	})
}

func (h *HandlerSet) testSpeaker(ctx *fiber.Ctx) error {
	status, err := h.audio.TestSpeaker(ctx.Context())
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": status,
		"state":  toAudioStateResponse(h.audio.Snapshot()),
	})
}

func (h *HandlerSet) setVolume(ctx *fiber.Ctx) error {
	var req volumeRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.audio.SetVolume(req.Percent); err != nil {
		return translateError(err)
	}
	return ctx.Status(fiber.StatusOK).JSON(toAudioStateResponse(h.audio.Snapshot()))
}

func (h *HandlerSet) audioStatus(ctx *fiber.Ctx) error {
	return ctx.Status(fiber.StatusOK).JSON(toAudioStateResponse(h.audio.Snapshot()))
}
