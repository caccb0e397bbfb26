package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Audience selects which party a message is written for.
type Audience string

const (
	AudienceSubject      Audience = "subject"
	AudiencePractitioner Audience = "practitioner"
)

func templateID(e Event, a Audience) string {
	return string(e) + "/" + string(a)
}

// BookingNotice describes a booking change for both parties.
type BookingNotice struct {
	Event             Event
	AppointmentID     string
	SubjectName       string
	SubjectEmail      string
	PractitionerName  string
	PractitionerEmail string
	ServiceName       string
	// When is the human-readable start/end in the application's offset.
	When    string
	JoinURL string
	HostURL string
}

// Observer receives delivery outcomes. *telemetry.Metrics satisfies it.
type Observer interface {
	ObserveNotification(event, status string)
}

type job struct {
	event    Event
	audience Audience
	to       string
	data     map[string]string
}

// Dispatcher renders booking notices and delivers them on background workers.
// Delivery failures are logged and counted, never returned to the caller.
type Dispatcher struct {
	sender    EmailSender
	templates *TemplateEngine
	logger    zerolog.Logger
	observer  Observer
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with a bounded queue. observer may be nil.
func NewDispatcher(sender EmailSender, templates *TemplateEngine, logger zerolog.Logger, observer Observer, queueSize int) *Dispatcher {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	return &Dispatcher{
		sender:    sender,
		templates: templates,
		logger:    logger.With().Str("component", "notification").Logger(),
		observer:  observer,
		timeout:   30 * time.Second,
		queue:     make(chan job, queueSize),
	}
}

// Start launches workers that drain the queue until Close.
func (d *Dispatcher) Start(workers int) {
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	subject, body, err := d.templates.Render(templateID(j.event, j.audience), j.data)
	if err != nil {
		d.logger.Error().Err(err).Str("event", string(j.event)).Msg("render notification")
		d.observe(j.event, "failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sender.SendEmail(ctx, j.to, subject, body); err != nil {
		d.logger.Warn().Err(err).
			Str("event", string(j.event)).
			Str("audience", string(j.audience)).
			Str("appointment_id", j.data["appointment_id"]).
			Msg("notification delivery failed")
		d.observe(j.event, "failed")
		return
	}
	d.observe(j.event, "sent")
}

func (d *Dispatcher) observe(e Event, status string) {
	if d.observer != nil {
		d.observer.ObserveNotification(string(e), status)
	}
}

// NotifyBooking queues one message for the subject and one for the
// practitioner. It never blocks: when the queue is full the message is
// dropped and logged.
func (d *Dispatcher) NotifyBooking(_ context.Context, n BookingNotice) {
	data := map[string]string{
		"appointment_id":    n.AppointmentID,
		"subject_name":      n.SubjectName,
		"practitioner_name": n.PractitionerName,
		"service_name":      n.ServiceName,
		"when":              n.When,
		"join_line":         "",
		"host_line":         "",
	}
	if n.JoinURL != "" {
		data["join_line"] = " Join the consultation at " + n.JoinURL
	}
	if n.HostURL != "" {
		data["host_line"] = " Start the consultation at " + n.HostURL
	}

	if n.SubjectEmail != "" {
		d.enqueue(job{event: n.Event, audience: AudienceSubject, to: n.SubjectEmail, data: data})
	}
	if n.PractitionerEmail != "" {
		d.enqueue(job{event: n.Event, audience: AudiencePractitioner, to: n.PractitionerEmail, data: data})
	}
}

func (d *Dispatcher) enqueue(j job) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn().Str("event", string(j.event)).Msg("dispatcher closed, dropping notification")
		d.observe(j.event, "dropped")
		return
	}
	select {
	case d.queue <- j:
	default:
		d.logger.Warn().Str("event", string(j.event)).Msg("notification queue full, dropping")
		d.observe(j.event, "dropped")
	}
}

// Close stops accepting messages and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}
