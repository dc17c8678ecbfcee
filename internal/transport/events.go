package transport

import (
	"fmt"
	"strings"

	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/quadshield/quadshield/internal/model"
)

const eventSubjectPrefix = "quadshield.events."

// EventSubject is the subject an OS monitor publishes one kind of event on.
func EventSubject(kind model.EventKind) string {
	return eventSubjectPrefix + string(kind)
}

// EventHandler processes one decoded monitor event.
type EventHandler func(ev model.Event)

// EventListener is the agent-side receiver for OS monitor events. Monitors
// publish model.Event JSON on the per-kind subjects; the listener feeds them
// into the detection pipeline.
type EventListener struct {
	conn    *nats.Conn
	logger  *slog.Logger
	handler EventHandler
	subs    []*nats.Subscription
}

// NewEventListener returns a listener over an existing connection.
func NewEventListener(conn *nats.Conn, logger *slog.Logger) *EventListener {
	return &EventListener{conn: conn, logger: logger}
}

// Listen subscribes to the file, process and network event subjects.
func (l *EventListener) Listen(onEvent EventHandler) error {
	l.handler = onEvent
	for _, kind := range []model.EventKind{model.EventFile, model.EventProcess, model.EventNetwork} {
		sub, err := l.conn.Subscribe(EventSubject(kind), l.handleMsg)
		if err != nil {
			return fmt.Errorf("subscribe to %s: %w", EventSubject(kind), err)
		}
		l.subs = append(l.subs, sub)
	}
	l.logger.Info("event listener ready", "subjects", eventSubjectPrefix+"*")
	return nil
}

func (l *EventListener) handleMsg(msg *nats.Msg) {
	var ev model.Event
	if err := Decode(msg.Data, &ev); err != nil {
		l.logger.Warn("dropping malformed monitor event", "subject", msg.Subject, "error", err)
		return
	}
	// The subject is authoritative for the kind so monitors cannot
	// misroute an event into the wrong rule category.
	if kind := strings.TrimPrefix(msg.Subject, eventSubjectPrefix); kind != msg.Subject {
		ev.Kind = model.EventKind(kind)
	}
	l.handler(ev)
}

// Close drains all subscriptions.
func (l *EventListener) Close() error {
	var firstErr error
	for _, sub := range l.subs {
		if err := sub.Drain(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
