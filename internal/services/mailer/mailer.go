// Package mailer delivers price drop notifications through an HTTP mail
// relay, with a no-op fallback for deployments without one.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pricemate/service/internal/services/alerts"
	"github.com/pricemate/service/pkg/logger"
)

// HTTPMailer posts notifications to a mail relay endpoint. The relay owns
// templating and delivery; this client only ships the structured fields.
type HTTPMailer struct {
	client   *http.Client
	endpoint string
	apiKey   string
	from     string
	log      *logger.Logger
}

var _ alerts.Mailer = (*HTTPMailer)(nil)

// NewHTTP creates a relay-backed mailer.
func NewHTTP(endpoint, apiKey, from string, client *http.Client, log *logger.Logger) (*HTTPMailer, error) {
	if endpoint == "" {
		return nil, errors.New("mailer: endpoint required")
	}
	if from == "" {
		return nil, errors.New("mailer: from address required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("mailer")
	}
	return &HTTPMailer{
		client:   client,
		endpoint: endpoint,
		apiKey:   apiKey,
		from:     from,
		log:      log,
	}, nil
}

type relayMessage struct {
	From     string            `json:"from"`
	To       string            `json:"to"`
	Template string            `json:"template"`
	Fields   map[string]string `json:"fields"`
}

// SendPriceDropAlert posts one notification to the relay.
func (m *HTTPMailer) SendPriceDropAlert(ctx context.Context, n alerts.Notification) error {
	msg := relayMessage{
		From:     m.from,
		To:       n.Email,
		Template: "price_drop",
		Fields: map[string]string{
			"product_title": n.ProductTitle,
			"product_url":   n.ProductURL,
			"current_price": fmt.Sprintf("%.2f", n.CurrentPrice),
			"target_price":  fmt.Sprintf("%.2f", n.TargetPrice),
		},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mailer: relay returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

// Noop discards notifications. It stands in for the relay in development so
// the alert checker still records which alerts would have been sent.
type Noop struct {
	log *logger.Logger
}

var _ alerts.Mailer = (*Noop)(nil)

// NewNoop creates a discarding mailer.
func NewNoop(log *logger.Logger) *Noop {
	if log == nil {
		log = logger.NewDefault("mailer")
	}
	return &Noop{log: log}
}

func (m *Noop) SendPriceDropAlert(_ context.Context, n alerts.Notification) error {
	m.log.WithField("email", n.Email).
		WithField("product", n.ProductTitle).
		Info("mail relay not configured, dropping price drop alert")
	return nil
}
