package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cutroom/cutroom/internal/config"
	"github.com/cutroom/cutroom/internal/logging"
	"github.com/cutroom/cutroom/internal/metrics"
	"github.com/cutroom/cutroom/pkg/models"
)

// Event is the JSON body posted to every endpoint
type Event struct {
	ID        string           `json:"id"`
	Event     string           `json:"event"`
	Timestamp time.Time        `json:"timestamp"`
	Export    models.ExportJob `json:"export"`
}

// Service posts export events to the configured endpoints
type Service struct {
	client      *http.Client
	urls        []string
	secret      string
	retryDelays []time.Duration
	logger      *logging.Logger
	wg          sync.WaitGroup
}

// NewService creates a new webhook service
func NewService(cfg config.WebhookConfig, logger *logging.Logger) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		client: &http.Client{
			Timeout: timeout,
		},
		urls:   cfg.URLs,
		secret: cfg.Secret,
		// Delays between attempts; an endpoint gets len+1 tries
		retryDelays: []time.Duration{
			1 * time.Second,
			5 * time.Second,
			15 * time.Second,
		},
		logger: logger,
	}
}

// NotifyExport delivers an export event to every endpoint in the background
func (s *Service) NotifyExport(ctx context.Context, event string, job models.ExportJob) {
	if len(s.urls) == 0 {
		return
	}

	payload, err := json.Marshal(Event{
		ID:        uuid.New().String(),
		Event:     event,
		Timestamp: time.Now(),
		Export:    job,
	})
	if err != nil {
		s.logger.ErrorWithErr("Failed to marshal webhook payload", err)
		return
	}

	for _, url := range s.urls {
		s.wg.Add(1)
		go func(url string) {
			defer s.wg.Done()
			s.deliver(context.WithoutCancel(ctx), url, event, payload)
		}(url)
	}
}

// Wait blocks until pending deliveries finish
func (s *Service) Wait() {
	s.wg.Wait()
}

// deliver posts payload to url, retrying with backoff until it is accepted
func (s *Service) deliver(ctx context.Context, url, event string, payload []byte) {
	deliveryID := uuid.New().String()
	log := s.logger.WithField("url", url).WithField("event", event).WithField("delivery_id", deliveryID)

	for attempt := 0; ; attempt++ {
		status, err := s.post(ctx, url, event, deliveryID, payload)
		if err == nil {
			return
		}

		if attempt >= len(s.retryDelays) {
			metrics.RecordError("webhook", "delivery")
			log.WithField("status_code", status).ErrorWithErr("Webhook delivery failed", err)
			return
		}

		log.WithField("attempt", attempt+1).WithError(err).Warn("Webhook delivery attempt failed")
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retryDelays[attempt]):
		}
	}
}

func (s *Service) post(ctx context.Context, url, event, deliveryID string, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Cutroom-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Delivery", deliveryID)

	if s.secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, body)
	}
	return resp.StatusCode, nil
}

// Sign returns the HMAC-SHA256 signature header value for payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
