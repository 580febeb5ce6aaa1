// Package events publishes run-completion notifications to NATS. Publishing
// is advisory: downstream automation (ticket bots, chat hooks) reacts to
// completed runs, so publish failures are logged by callers, never fatal.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/dbdepot/internal/errors"
	"git.home.luguber.info/inful/dbdepot/internal/logfields"
)

// RunEvent is the JSON payload published after each completed run.
type RunEvent struct {
	RunID       string    `json:"run_id"`
	Kind        string    `json:"kind"` // audit | repair
	Result      string    `json:"result"`
	Summary     string    `json:"summary,omitempty"`
	StateCommit string    `json:"state_commit,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`

	// Audit runs: discrepancy count per kind.
	Discrepancies map[string]int `json:"discrepancies,omitempty"`

	// Repair runs: manifests published, releases that failed.
	Published int `json:"published,omitempty"`
	Failed    int `json:"failed,omitempty"`
}

// Subject returns the NATS subject for a run kind: <prefix>.<kind>.completed.
func Subject(prefix, kind string) string {
	return prefix + "." + kind + ".completed"
}

// Publisher emits run events.
type Publisher interface {
	PublishRun(ctx context.Context, event RunEvent) error
	Close()
}

// NoopPublisher is the Publisher used when NATS is not configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishRun(context.Context, RunEvent) error { return nil }

func (NoopPublisher) Close() {}

// NATSPublisher publishes run events over core NATS. Events are
// notifications, not state: no stream persistence is requested, subscribers
// that are offline simply miss the run.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

var _ Publisher = (*NATSPublisher)(nil)

// Connect dials the NATS server.
func Connect(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("dbdepot"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errors.Network(url, err)
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: slog.Default()}, nil
}

// WithLogger overrides the default logger.
func (p *NATSPublisher) WithLogger(logger *slog.Logger) *NATSPublisher {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// PublishRun emits one run event and flushes it before returning, so a
// daemon shutdown right after a run cannot drop the notification.
func (p *NATSPublisher) PublishRun(ctx context.Context, event RunEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.SeverityError, "encoding run event")
	}

	subject := Subject(p.prefix, event.Kind)
	if err := p.conn.Publish(subject, data); err != nil {
		return errors.Network(subject, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return errors.Network(subject, err)
	}

	p.logger.Debug("run event published",
		logfields.RunID(event.RunID),
		slog.String("subject", subject),
		logfields.Status(event.Result),
	)
	return nil
}

// Close closes the NATS connection.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
