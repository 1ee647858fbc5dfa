package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/platform/sendgrid"
)

// Sink delivers one alert to one external channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// ---------- log ----------

// LogSink writes the alert to the structured log. It is the fallback channel
// and is never circuit-broken in practice since it cannot fail.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(baseLog *logger.Logger) *LogSink {
	return &LogSink{log: baseLog.With("sink", "log")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, a Alert) error {
	fields := []interface{}{
		"title", a.Title,
		"message", a.Message,
		"severity", string(a.Severity),
		"source", a.Source,
	}
	for k, v := range a.Labels {
		fields = append(fields, "label_"+k, v)
	}
	switch a.Severity {
	case SeverityCritical:
		s.log.Error("ALERT", fields...)
	case SeverityWarning:
		s.log.Warn("ALERT", fields...)
	default:
		s.log.Info("ALERT", fields...)
	}
	return nil
}

// ---------- slack ----------

type SlackSink struct {
	webhookURL string
	httpClient *http.Client
}

func NewSlackSink(webhookURL string) *SlackSink {
	return &SlackSink{
		webhookURL: strings.TrimSpace(webhookURL),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Send(ctx context.Context, a Alert) error {
	if s.webhookURL == "" {
		return fmt.Errorf("slack sink: webhook URL not configured")
	}
	text := fmt.Sprintf("[%s] %s\n%s", strings.ToUpper(string(a.Severity)), a.Title, a.Message)
	if a.Source != "" {
		text += "\nsource: " + a.Source
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	return s.post(ctx, s.webhookURL, body)
}

func (s *SlackSink) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("slack sink: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// ---------- generic webhook ----------

// WebhookSink posts the alert as JSON to an operator-provided endpoint, for
// pager bridges and incident tooling.
type WebhookSink struct {
	url        string
	httpClient *http.Client
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Send(ctx context.Context, a Alert) error {
	if s.url == "" {
		return fmt.Errorf("webhook sink: URL not configured")
	}
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook sink: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// ---------- email ----------

type EmailSink struct {
	client sendgrid.Client
	to     []sendgrid.EmailAddress
}

func NewEmailSink(client sendgrid.Client, recipients []string) *EmailSink {
	to := make([]sendgrid.EmailAddress, 0, len(recipients))
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r != "" {
			to = append(to, sendgrid.EmailAddress{Email: r})
		}
	}
	return &EmailSink{client: client, to: to}
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Send(ctx context.Context, a Alert) error {
	if s.client == nil {
		return fmt.Errorf("email sink: client not configured")
	}
	if len(s.to) == 0 {
		return fmt.Errorf("email sink: no recipients configured")
	}
	text := a.Message
	if a.Source != "" {
		text += "\n\nsource: " + a.Source
	}
	for k, v := range a.Labels {
		text += fmt.Sprintf("\n%s: %s", k, v)
	}
	_, err := s.client.Send(ctx, sendgrid.SendEmailRequest{
		To:      s.to,
		Subject: fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Severity)), a.Title),
		Text:    text,
	})
	return err
}
