package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"

	"tradiehub/internal/chat"
	"tradiehub/internal/logger"
	"tradiehub/internal/metrics"
	"tradiehub/internal/participant"
)

const KindApplicationRejected = "application_rejected"

var templates = map[string]*template.Template{
	KindApplicationRejected: template.Must(template.New(KindApplicationRejected).Option("missingkey=error").Parse(
		"Thank you for your application for '{{.job_title}}'. Unfortunately, we have decided to go with " +
			"another candidate. We appreciate your interest and encourage you to apply for future opportunities.")),
}

var (
	ErrUnknownKind = errors.New("unknown notification kind")
	// ErrSkipped means the recipient has blocked the sender or the thread is inactive.
	ErrSkipped = errors.New("notification skipped")
)

// Threads is the part of the thread registry notifications need.
type Threads interface {
	FindOrCreate(ctx context.Context, a, b participant.Participant) (*chat.Thread, error)
	IsBlocked(ctx context.Context, by, who participant.Participant) (bool, error)
}

type Appender interface {
	AppendMessage(ctx context.Context, threadID string, sender, receiver participant.Participant, content string, replyTo *chat.ReplyTo) (chat.MessageRef, error)
}

// Dispatcher sends automated workflow messages into the pair's chat thread.
type Dispatcher struct {
	threads  Threads
	appender Appender
}

func NewDispatcher(threads Threads, appender Appender) *Dispatcher {
	return &Dispatcher{threads: threads, appender: appender}
}

// Render fills the template registered for kind.
func Render(kind string, data map[string]string) (string, error) {
	t, ok := templates[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", kind, err)
	}
	return buf.String(), nil
}

// Notify sends the message and logs any failure. It never returns an error:
// a notification must not undo the workflow step that triggered it.
func (d *Dispatcher) Notify(ctx context.Context, from, to participant.Participant, kind string, data map[string]string) {
	ref, err := d.Send(ctx, from, to, kind, data)
	switch {
	case err == nil:
		metrics.Notifications.WithLabelValues(kind, "sent").Inc()
		logger.Info("notification sent", "kind", kind, "thread_id", ref.ThreadID,
			"message_id", ref.MessageID, "to", to.String())
	case errors.Is(err, ErrSkipped):
		metrics.Notifications.WithLabelValues(kind, "skipped").Inc()
		logger.Info("notification skipped", "kind", kind, "from", from.String(), "to", to.String(), "reason", err)
	default:
		metrics.Notifications.WithLabelValues(kind, "failed").Inc()
		logger.Error("notification failed", "event", "notification_failed", "kind", kind,
			"from", from.String(), "to", to.String(), "error", err)
	}
}

// Send is Notify with the error returned.
func (d *Dispatcher) Send(ctx context.Context, from, to participant.Participant, kind string, data map[string]string) (chat.MessageRef, error) {
	content, err := Render(kind, data)
	if err != nil {
		return chat.MessageRef{}, err
	}

	blocked, err := d.threads.IsBlocked(ctx, to, from)
	if err != nil {
		return chat.MessageRef{}, err
	}
	if blocked {
		return chat.MessageRef{}, fmt.Errorf("%w: %s has blocked %s", ErrSkipped, to, from)
	}

	thread, err := d.threads.FindOrCreate(ctx, from, to)
	if err != nil {
		return chat.MessageRef{}, err
	}
	if !thread.IsActive {
		return chat.MessageRef{}, fmt.Errorf("%w: thread %s is inactive", ErrSkipped, thread.ThreadID)
	}
	return d.appender.AppendMessage(ctx, thread.ThreadID, from, to, content, nil)
}
