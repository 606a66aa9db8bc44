// Package notify delivers assessment outcome emails through a
// Resend-compatible transactional email API.
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
	"time"
)

// Notifier is told about finished assessments. Implementations must
// not block the pipeline on delivery problems.
type Notifier interface {
	AssessmentCompleted(ctx context.Context, a Completed) error
}

// Completed carries everything the emails need, decoupled from the
// storage record.
type Completed struct {
	AssessmentID string
	URL          string
	Name         string
	Email        string
	Score        int
	Grade        string
	Summary      string
	TopActions   []string
}

// Config for the email provider.
type Config struct {
	APIKey       string
	BaseURL      string
	From         string
	AdminAddress string
	Timeout      time.Duration
}

// EmailNotifier sends the requester their report and, when an admin
// address is configured, a lead alert to the operator.
type EmailNotifier struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func NewEmailNotifier(cfg Config) *EmailNotifier {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &EmailNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: slog.Default(),
	}
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// AssessmentCompleted sends both emails. A failure on one does not
// prevent the other; all delivery errors are joined.
func (n *EmailNotifier) AssessmentCompleted(ctx context.Context, a Completed) error {
	var errs []error

	report, err := renderReport(a)
	if err != nil {
		errs = append(errs, fmt.Errorf("rendering report email: %w", err))
	} else if err := n.send(ctx, emailRequest{
		From:    n.cfg.From,
		To:      []string{a.Email},
		Subject: fmt.Sprintf("Your AI visibility report for %s", a.URL),
		HTML:    report,
	}); err != nil {
		errs = append(errs, fmt.Errorf("sending report to %s: %w", a.Email, err))
	}

	if n.cfg.AdminAddress != "" {
		alert, err := renderLeadAlert(a)
		if err != nil {
			errs = append(errs, fmt.Errorf("rendering lead alert: %w", err))
		} else if err := n.send(ctx, emailRequest{
			From:    n.cfg.From,
			To:      []string{n.cfg.AdminAddress},
			Subject: fmt.Sprintf("New assessment lead: %s (%s)", a.Name, a.URL),
			HTML:    alert,
		}); err != nil {
			errs = append(errs, fmt.Errorf("sending lead alert: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (n *EmailNotifier) send(ctx context.Context, email emailRequest) error {
	payload, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("marshaling email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.BaseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building email request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("email API returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// NopNotifier is used when no email provider is configured.
type NopNotifier struct{}

func (NopNotifier) AssessmentCompleted(context.Context, Completed) error { return nil }
