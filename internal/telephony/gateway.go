package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/acme/lead-dialer/internal/config"
	"github.com/acme/lead-dialer/internal/domain"
	apperrors "github.com/acme/lead-dialer/pkg/errors"
)

// Gateway is the REST client for the collaborating telephony backend: token
// issuance, PSTN leg placement into conferences, and server-side call
// control.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
}

// NewGateway constructs a gateway client from configuration.
func NewGateway(cfg config.TelephonyConfig) *Gateway {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		baseURL:    strings.TrimRight(cfg.GatewayURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type tokenRequest struct {
	Identity string `json:"identity"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Token fetches a short-lived access token for the identity. A non-2xx
// status, a non-JSON content type, or a body without a token field is a
// hard failure; the caller must not retry silently.
func (g *Gateway) Token(ctx context.Context, identity string) (string, error) {
	body, err := g.post(ctx, "/telephony/token", tokenRequest{Identity: identity})
	if err != nil {
		return "", fmt.Errorf("gateway: fetch token: %w", err)
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("gateway: token response not valid JSON: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("gateway: token response missing token field")
	}
	return resp.Token, nil
}

// PlaceCallInput describes the outbound PSTN leg to establish.
type PlaceCallInput struct {
	PhoneNumber    string
	LeadID         *uuid.UUID
	Mode           domain.CallMode
	ConferenceName string
}

type placeCallRequest struct {
	PhoneNumber    string `json:"phoneNumber"`
	LeadID         string `json:"leadId,omitempty"`
	Mode           string `json:"mode"`
	ConferenceName string `json:"conferenceName,omitempty"`
}

type placeCallResponse struct {
	CallSID string `json:"callSid"`
}

// PlaceCall asks the backend to dial the PSTN leg. In conference mode this
// joins the callee into the conference the softphone leg already occupies;
// on failure the caller must tear down that softphone leg itself.
func (g *Gateway) PlaceCall(ctx context.Context, in PlaceCallInput) (string, error) {
	req := placeCallRequest{
		PhoneNumber:    in.PhoneNumber,
		Mode:           string(in.Mode),
		ConferenceName: in.ConferenceName,
	}
	if in.LeadID != nil {
		req.LeadID = in.LeadID.String()
	}

	body, err := g.post(ctx, "/telephony/call", req)
	if err != nil {
		return "", fmt.Errorf("gateway: place call: %w", err)
	}

	var resp placeCallResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("gateway: place call response not valid JSON: %w", err)
	}
	if resp.CallSID == "" {
		return "", fmt.Errorf("gateway: place call response missing callSid")
	}
	return resp.CallSID, nil
}

// EndCall terminates a provider-side leg by SID.
func (g *Gateway) EndCall(ctx context.Context, callSID string) error {
	if _, err := g.post(ctx, fmt.Sprintf("/telephony/call/%s/end", callSID), struct{}{}); err != nil {
		return fmt.Errorf("gateway: end call %s: %w", callSID, err)
	}
	return nil
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

// SetMuted mutes or unmutes a conference participant server-side.
func (g *Gateway) SetMuted(ctx context.Context, callSID string, muted bool) error {
	if _, err := g.post(ctx, fmt.Sprintf("/telephony/call/%s/mute", callSID), muteRequest{Muted: muted}); err != nil {
		return fmt.Errorf("gateway: mute call %s: %w", callSID, err)
	}
	return nil
}

func (g *Gateway) post(ctx context.Context, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return nil, fmt.Errorf("unexpected content type %q", contentType)
	}

	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
