package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"uniadmit/internal/domain/notification"
)

// Sender delivers one notification to its final channel.
type Sender interface {
	Send(ctx context.Context, n notification.Notification) error
}

// ErrPermanent marks failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent delivery failure")

// HTTPGateway posts notifications to the email/push gateway.
type HTTPGateway struct {
	baseURL     string
	internalKey string
	httpClient  *http.Client
}

func NewHTTPGateway(baseURL, internalKey string, httpClient *http.Client) *HTTPGateway {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPGateway{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		internalKey: strings.TrimSpace(internalKey),
		httpClient:  httpClient,
	}
}

type gatewayRequest struct {
	ID            string            `json:"id"`
	Kind          string            `json:"kind"`
	RecipientID   string            `json:"recipient_id"`
	ApplicationID string            `json:"application_id"`
	Payload       map[string]string `json:"payload,omitempty"`
}

type gatewayError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (g *HTTPGateway) Send(ctx context.Context, n notification.Notification) error {
	if g.baseURL == "" {
		return fmt.Errorf("%w: gateway url not configured", ErrPermanent)
	}
	body, err := json.Marshal(gatewayRequest{
		ID:            n.ID.String(),
		Kind:          string(n.Kind),
		RecipientID:   n.RecipientID.String(),
		ApplicationID: n.ApplicationID.String(),
		Payload:       n.Payload,
	})
	if err != nil {
		return fmt.Errorf("%w: encode notification: %v", ErrPermanent, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", n.ID.String())
	if g.internalKey != "" {
		req.Header.Set("X-Internal-Key", g.internalKey)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	cause := gatewayMessage(resp.StatusCode, payload)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout {
		return fmt.Errorf("%w: %s", ErrPermanent, cause)
	}
	return errors.New(cause)
}

func gatewayMessage(status int, payload []byte) string {
	var parsed gatewayError
	if err := json.Unmarshal(payload, &parsed); err == nil && (parsed.Error != "" || parsed.Message != "") {
		return fmt.Sprintf("gateway status %d: %s %s", status, parsed.Error, parsed.Message)
	}
	message := strings.TrimSpace(string(payload))
	if message == "" {
		return fmt.Sprintf("gateway status %d", status)
	}
	return fmt.Sprintf("gateway status %d: %s", status, message)
}

// LogSender only logs; used when no gateway is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, n notification.Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification delivered to log",
		slog.String("notification_id", n.ID.String()),
		slog.String("kind", string(n.Kind)),
		slog.String("recipient_id", n.RecipientID.String()),
		slog.String("application_id", n.ApplicationID.String()),
	)
	return nil
}
