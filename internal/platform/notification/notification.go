// Package notification is the alert trigger boundary of the sync engine. It
// renders quota-alert emails from templates and delivers them fire-and-forget:
// a delivery failure is logged and never fails a sync run.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Alert describes one case that crossed a quota threshold during a run.
type Alert struct {
	PatientName       string
	Scheme            string
	Status            string
	Priority          string
	SessionsUsed      int
	Quota             int
	SessionsRemaining int
	Message           string
}

// Notifier is consumed by the sync orchestrator.
type Notifier interface {
	// NotifyQuotaAlerts delivers a digest of threshold alerts to the
	// clinic contact. Implementations must not block the caller for long;
	// errors are for logging only.
	NotifyQuotaAlerts(ctx context.Context, contactEmail string, alerts []Alert) error
	// NotifyCredentialDeactivated informs the clinic contact that syncing
	// was paused after repeated auth failures.
	NotifyCredentialDeactivated(ctx context.Context, contactEmail, vendor string) error
}

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Template defines a reusable notification template.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates
// pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "quota-alert-digest",
			Name:    "Quota Alert Digest",
			Subject: "{{alert_count}} patients approaching their session quota",
			Body:    "The latest sync flagged {{alert_count}} patients:\n\n{{alert_lines}}\nReview them in the dashboard.",
		},
		{
			ID:      "quota-alert-line",
			Name:    "Quota Alert Line",
			Subject: "",
			Body:    "- {{patient_name}} ({{scheme}}): {{sessions_used}} of {{quota}} sessions used, {{remaining}} remaining [{{priority}}]\n",
		},
		{
			ID:      "credential-deactivated",
			Name:    "Credential Deactivated",
			Subject: "Your {{vendor}} connection has been paused",
			Body:    "Repeated authentication failures were detected for your {{vendor}} connection. Syncing is paused until the API key is updated.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are
// left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// Manager renders and sends quota alerts through an EmailSender.
type Manager struct {
	engine *TemplateEngine
	sender EmailSender
	logger zerolog.Logger
}

func NewManager(sender EmailSender, logger zerolog.Logger) *Manager {
	return &Manager{
		engine: NewTemplateEngine(),
		sender: sender,
		logger: logger,
	}
}

// NotifyQuotaAlerts sends one digest email covering all flagged cases of a
// run. A missing contact address or empty alert set is a silent no-op.
func (m *Manager) NotifyQuotaAlerts(ctx context.Context, contactEmail string, alerts []Alert) error {
	if len(alerts) == 0 || contactEmail == "" {
		return nil
	}

	var lines strings.Builder
	for _, a := range alerts {
		_, line, err := m.engine.Render("quota-alert-line", map[string]string{
			"patient_name":  a.PatientName,
			"scheme":        strings.ToUpper(a.Scheme),
			"sessions_used": fmt.Sprintf("%d", a.SessionsUsed),
			"quota":         fmt.Sprintf("%d", a.Quota),
			"remaining":     fmt.Sprintf("%d", a.SessionsRemaining),
			"priority":      a.Priority,
		})
		if err != nil {
			return err
		}
		lines.WriteString(line)
	}

	subject, body, err := m.engine.Render("quota-alert-digest", map[string]string{
		"alert_count": fmt.Sprintf("%d", len(alerts)),
		"alert_lines": lines.String(),
	})
	if err != nil {
		return err
	}

	if err := m.sender.SendEmail(ctx, contactEmail, subject, body); err != nil {
		m.logger.Warn().Str("recipient", contactEmail).Err(err).
			Msg("quota alert delivery failed")
		return err
	}
	return nil
}

// NotifyCredentialDeactivated tells the clinic contact that syncing was
// paused after repeated auth failures.
func (m *Manager) NotifyCredentialDeactivated(ctx context.Context, contactEmail, vendor string) error {
	if contactEmail == "" {
		return nil
	}
	subject, body, err := m.engine.Render("credential-deactivated", map[string]string{
		"vendor": vendor,
	})
	if err != nil {
		return err
	}
	return m.sender.SendEmail(ctx, contactEmail, subject, body)
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu    sync.Mutex
	calls []EmailCall
	// Err, when set, is returned by every SendEmail call.
	Err error
}

func (m *MockEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	return nil
}

// Calls returns a copy of the recorded calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// LogSender is an EmailSender that only logs, for environments without a
// configured mail provider.
type LogSender struct {
	Logger zerolog.Logger
}

func (s *LogSender) SendEmail(ctx context.Context, to, subject, body string) error {
	s.Logger.Info().Str("to", to).Str("subject", subject).Msg("email suppressed (no sender configured)")
	return nil
}
