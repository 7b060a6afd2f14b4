package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/sorteo-api/internal/models"
	appErrors "github.com/noah-isme/sorteo-api/pkg/errors"
	"github.com/noah-isme/sorteo-api/pkg/middleware/requestid"
)

const (
	webhookSource       = "sorteo-web-upload"
	maxVerdictBodyBytes = 64 << 10
)

// WebhookConfig describes the external validation workflow endpoint.
type WebhookConfig struct {
	URL      string
	Username string
	Password string
	Token    string
	Timeout  time.Duration

	BreakerName      string
	BreakerFailures  uint32
	BreakerOpenFor   time.Duration
	BreakerHalfOpen  uint32
	BreakerResetEach time.Duration
}

// DispatchRequest is one ticket image handed to the external workflow.
type DispatchRequest struct {
	CorrelationID string
	CallbackURL   string
	Filename      string
	MimeType      string
	Image         []byte
	RequestedAt   time.Time
}

// DispatchResult is the acknowledgement of a dispatch. Verdict is set when the workflow decided
// synchronously in its response body.
type DispatchResult struct {
	StatusCode int
	Verdict    *models.ValidationVerdict
}

type webhookPayload struct {
	CorrelationID string `json:"correlationId"`
	CallbackURL   string `json:"callbackUrl"`
	Image         string `json:"image"`
	Filename      string `json:"filename"`
	MimeType      string `json:"mimetype"`
	Timestamp     string `json:"timestamp"`
	Source        string `json:"source"`
}

type webhookVerdict struct {
	CorrelationID string   `json:"correlationId"`
	Valid         *bool    `json:"valid"`
	Reason        *string  `json:"reason"`
	Confidence    *float64 `json:"confidence"`
}

// WebhookClient posts ticket images to the external validation workflow through a circuit breaker.
type WebhookClient struct {
	cfg     WebhookConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*DispatchResult]
	metrics *MetricsService
	logger  *zap.Logger
}

// NewWebhookClient constructs the client. A nil httpClient gets one bounded by cfg.Timeout.
func NewWebhookClient(cfg WebhookConfig, httpClient *http.Client, metrics *MetricsService, logger *zap.Logger) *WebhookClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerName == "" {
		cfg.BreakerName = "validation-webhook"
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = 30 * time.Second
	}
	if cfg.BreakerHalfOpen == 0 {
		cfg.BreakerHalfOpen = 1
	}
	if cfg.BreakerResetEach <= 0 {
		cfg.BreakerResetEach = time.Minute
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &WebhookClient{cfg: cfg, client: httpClient, metrics: metrics, logger: logger}
	c.breaker = gobreaker.NewCircuitBreaker[*DispatchResult](gobreaker.Settings{
		Name:        cfg.BreakerName,
		MaxRequests: cfg.BreakerHalfOpen,
		Interval:    cfg.BreakerResetEach,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Refusals do not count towards tripping.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, appErrors.ErrUpstreamRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("validation webhook breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.BreakerState(name, int(to))
		},
	})
	return c
}

// Dispatch sends the image to the workflow. Errors are ErrUpstreamRejected when retrying cannot
// help and ErrUpstreamUnavailable otherwise.
func (c *WebhookClient) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	endpoint, err := url.Parse(c.cfg.URL)
	if err != nil || c.cfg.URL == "" || endpoint.Host == "" || (endpoint.Scheme != "http" && endpoint.Scheme != "https") {
		c.metrics.DispatchResult("rejected")
		return nil, appErrors.Clone(appErrors.ErrUpstreamRejected, "validation webhook url is not configured correctly")
	}

	result, err := c.breaker.Execute(func() (*DispatchResult, error) {
		return c.post(ctx, endpoint.String(), req)
	})
	switch {
	case err == nil:
		c.metrics.DispatchResult("delivered")
		return result, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.metrics.DispatchResult("breaker_open")
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status,
			"validation service temporarily unavailable")
	case errors.Is(err, appErrors.ErrUpstreamRejected):
		c.metrics.DispatchResult("rejected")
		return nil, err
	default:
		c.metrics.DispatchResult("unavailable")
		return nil, err
	}
}

func (c *WebhookClient) post(ctx context.Context, endpoint string, req DispatchRequest) (*DispatchResult, error) {
	requestedAt := req.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = time.Now().UTC()
	}
	body, err := json.Marshal(webhookPayload{
		CorrelationID: req.CorrelationID,
		CallbackURL:   req.CallbackURL,
		Image:         base64.StdEncoding.EncodeToString(req.Image),
		Filename:      req.Filename,
		MimeType:      req.MimeType,
		Timestamp:     requestedAt.Format(time.RFC3339),
		Source:        webhookSource,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode validation request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamRejected.Code, appErrors.ErrUpstreamRejected.Status,
			"build validation request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Correlation-ID", req.CorrelationID)
	if id := requestid.FromContext(ctx); id != "" {
		httpReq.Header.Set(requestid.Header, id)
	}
	switch {
	case c.cfg.Token != "":
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	case c.cfg.Username != "":
		httpReq.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status,
			"validation service unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxVerdictBodyBytes))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status,
			"read validation response")
	}

	if err := classifyWebhookStatus(resp.StatusCode); err != nil {
		c.logger.Warn("validation webhook refused dispatch",
			zap.String("correlation_id", req.CorrelationID),
			zap.Int("status", resp.StatusCode))
		return nil, err
	}

	return &DispatchResult{StatusCode: resp.StatusCode, Verdict: parseSyncVerdict(req.CorrelationID, raw)}, nil
}

func classifyWebhookStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return appErrors.Wrap(fmt.Errorf("webhook responded %d", status), appErrors.ErrUpstreamUnavailable.Code,
			appErrors.ErrUpstreamUnavailable.Status, appErrors.ErrUpstreamUnavailable.Message)
	case status >= 400:
		return appErrors.Wrap(fmt.Errorf("webhook responded %d", status), appErrors.ErrUpstreamRejected.Code,
			appErrors.ErrUpstreamRejected.Status, appErrors.ErrUpstreamRejected.Message)
	default:
		return appErrors.Wrap(fmt.Errorf("webhook responded %d", status), appErrors.ErrUpstreamUnavailable.Code,
			appErrors.ErrUpstreamUnavailable.Status, appErrors.ErrUpstreamUnavailable.Message)
	}
}

// parseSyncVerdict returns nil unless the body carries a boolean "valid" field.
func parseSyncVerdict(correlationID string, raw []byte) *models.ValidationVerdict {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var body webhookVerdict
	if err := json.Unmarshal(raw, &body); err != nil || body.Valid == nil {
		return nil
	}
	if body.CorrelationID != "" && body.CorrelationID != correlationID {
		return nil
	}
	return &models.ValidationVerdict{
		CorrelationID: correlationID,
		Valid:         *body.Valid,
		Reason:        body.Reason,
		Confidence:    clampConfidence(body.Confidence),
		Raw:           json.RawMessage(raw),
	}
}

func clampConfidence(c *float64) *float64 {
	if c == nil {
		return nil
	}
	v := *c
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return &v
}
