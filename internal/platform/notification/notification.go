// Package notification delivers booking notices by email. Delivery happens on
// background workers so a slow or failing provider never holds up a booking.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Event identifies what happened to a booking.
type Event string

const (
	EventBookingCreated   Event = "booking_created"
	EventBookingUpdated   Event = "booking_updated"
	EventBookingCancelled Event = "booking_cancelled"
)

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

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

// NewTemplateEngine creates a TemplateEngine with the booking templates
// pre-registered. Template IDs are "<event>/<audience>".
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      templateID(EventBookingCreated, AudienceSubject),
			Name:    "Booking Confirmed",
			Subject: "Your appointment with {{practitioner_name}} is confirmed",
			Body:    "Dear {{subject_name}}, your {{service_name}} appointment with {{practitioner_name}} is booked for {{when}}.{{join_line}}",
		},
		{
			ID:      templateID(EventBookingCreated, AudiencePractitioner),
			Name:    "New Booking",
			Subject: "New appointment: {{subject_name}}",
			Body:    "{{subject_name}} booked {{service_name}} for {{when}}.{{host_line}}",
		},
		{
			ID:      templateID(EventBookingUpdated, AudienceSubject),
			Name:    "Booking Rescheduled",
			Subject: "Your appointment has been rescheduled",
			Body:    "Dear {{subject_name}}, your appointment with {{practitioner_name}} now takes place {{when}}.{{join_line}}",
		},
		{
			ID:      templateID(EventBookingUpdated, AudiencePractitioner),
			Name:    "Booking Rescheduled",
			Subject: "Appointment rescheduled: {{subject_name}}",
			Body:    "The appointment with {{subject_name}} was moved to {{when}}.{{host_line}}",
		},
		{
			ID:      templateID(EventBookingCancelled, AudienceSubject),
			Name:    "Booking Cancelled",
			Subject: "Your appointment has been cancelled",
			Body:    "Dear {{subject_name}}, your appointment with {{practitioner_name}} on {{when}} has been cancelled.",
		},
		{
			ID:      templateID(EventBookingCancelled, AudiencePractitioner),
			Name:    "Booking Cancelled",
			Subject: "Appointment cancelled: {{subject_name}}",
			Body:    "The appointment with {{subject_name}} on {{when}} has been cancelled.",
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
// supplied data map. Keys present in the template but absent from data are left
// as-is.
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

// ---------------------------------------------------------------------------
// Mock Sender (test double)
// ---------------------------------------------------------------------------

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
	// Block, when set, is received from before each send returns.
	Block chan struct{}
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}
