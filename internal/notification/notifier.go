// Package notification delivers operational alerts (breaker trips, failed
// checkpoints) to external channels.
package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Source  string     `json:"source"` // component raising it, e.g. "redis-publisher"
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Time    time.Time  `json:"ts"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to a structured logger. Used when no external
// channel is configured.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier. A nil logger uses slog.Default.
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = slog.Default()
	}
	return &LogNotifier{log: l}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	level := slog.LevelInfo
	switch alert.Level {
	case AlertWarning:
		level = slog.LevelWarn
	case AlertCritical:
		level = slog.LevelError
	}
	n.log.Log(ctx, level, alert.Title,
		slog.String("source", alert.Source),
		slog.String("message", alert.Message))
	return nil
}

// Multi sends every alert to all notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Throttled drops repeats of the same source and title within the cooldown,
// so a flapping breaker does not flood the channel.
type Throttled struct {
	next     Notifier
	cooldown time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewThrottled wraps next. A non-positive cooldown disables throttling.
func NewThrottled(next Notifier, cooldown time.Duration) *Throttled {
	return &Throttled{next: next, cooldown: cooldown, limiters: make(map[string]*rate.Limiter)}
}

func (t *Throttled) Send(ctx context.Context, alert Alert) error {
	if t.cooldown > 0 {
		key := alert.Source + "|" + alert.Title
		t.mu.Lock()
		lim, ok := t.limiters[key]
		if !ok {
			lim = rate.NewLimiter(rate.Every(t.cooldown), 1)
			t.limiters[key] = lim
		}
		t.mu.Unlock()
		if !lim.Allow() {
			return nil
		}
	}
	return t.next.Send(ctx, alert)
}

// Dispatcher queues alerts and delivers them from a single goroutine, so
// callbacks on hot paths never block on a slow endpoint.
type Dispatcher struct {
	next    Notifier
	queue   chan Alert
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
}

// NewDispatcher creates a dispatcher holding up to size pending alerts.
func NewDispatcher(next Notifier, size int, l *slog.Logger) *Dispatcher {
	if size <= 0 {
		size = 64
	}
	if l == nil {
		l = slog.Default()
	}
	return &Dispatcher{next: next, queue: make(chan Alert, size), timeout: 10 * time.Second, log: l, now: time.Now}
}

// Notify queues an alert. When the queue is full the alert is logged and dropped.
func (d *Dispatcher) Notify(level AlertLevel, source, title, message string) {
	a := Alert{Level: level, Source: source, Title: title, Message: message, Time: d.now().UTC()}
	select {
	case d.queue <- a:
	default:
		d.log.Warn("alert queue full, dropping", slog.String("title", title), slog.String("source", source))
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-d.queue:
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			if err := d.next.Send(sendCtx, a); err != nil {
				d.log.Warn("alert delivery failed", slog.String("title", a.Title), slog.Any("error", err))
			}
			cancel()
		}
	}
}

// Build assembles the configured channels behind a cooldown. With no
// external channel alerts only go to the log.
func Build(webhookURL, telegramToken, telegramChat string, cooldown time.Duration, l *slog.Logger) Notifier {
	channels := Multi{NewLogNotifier(l)}
	if webhookURL != "" {
		channels = append(channels, NewWebhookNotifier(webhookURL))
	}
	if telegramToken != "" && telegramChat != "" {
		channels = append(channels, NewTelegramNotifier(telegramToken, telegramChat))
	}
	return NewThrottled(channels, cooldown)
}
