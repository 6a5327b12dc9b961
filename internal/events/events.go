// Package events publishes rcad lifecycle events to NATS.
//
// Publishing is optional and best-effort: a nil *Publisher is a valid
// no-op, and publish failures are logged, never propagated. Subjects:
//
//	{prefix}.analysis.{analysis_id}.{started|completed|failed|cancelled}
//	{prefix}.scan.completed
//	{prefix}.pattern.stored
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rcad/internal/config"
)

// Analysis lifecycle phases.
const (
	PhaseStarted   = "started"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
	PhaseCancelled = "cancelled"
)

// Publisher publishes lifecycle events over a NATS connection.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// Connect dials NATS and returns a Publisher. An empty URL disables
// eventing: the returned nil Publisher is safe to use.
func Connect(cfg config.EventsConfig, logger *zap.Logger) (*Publisher, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	nc, err := nats.Connect(cfg.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "rca"
	}

	logger.Info("connected to NATS", zap.String("url", cfg.NATSURL), zap.String("subject_prefix", prefix))
	return &Publisher{nc: nc, prefix: prefix, logger: logger}, nil
}

// Close drains the connection. Safe on nil.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	p.nc.Close()
}

// AnalysisEvent is the payload for analysis lifecycle subjects.
type AnalysisEvent struct {
	AnalysisID string    `json:"analysis_id"`
	IssueID    string    `json:"issue_id"`
	Phase      string    `json:"phase"`
	At         time.Time `json:"at"`
}

// Analysis publishes one analysis lifecycle transition.
func (p *Publisher) Analysis(analysisID, issueID, phase string) {
	if p == nil {
		return
	}
	subject := fmt.Sprintf("%s.analysis.%s.%s", p.prefix, analysisID, phase)
	p.publish("analysis", subject, AnalysisEvent{
		AnalysisID: analysisID,
		IssueID:    issueID,
		Phase:      phase,
		At:         time.Now().UTC(),
	})
}

// ScanEvent is the payload for scan completion.
type ScanEvent struct {
	TotalFound  int       `json:"total_found"`
	QueuedCount int       `json:"queued_count"`
	At          time.Time `json:"at"`
}

// ScanCompleted publishes the outcome of a discovery scan.
func (p *Publisher) ScanCompleted(totalFound, queuedCount int) {
	if p == nil {
		return
	}
	p.publish("scan", p.prefix+".scan.completed", ScanEvent{
		TotalFound:  totalFound,
		QueuedCount: queuedCount,
		At:          time.Now().UTC(),
	})
}

// PatternEvent is the payload for pattern writes.
type PatternEvent struct {
	ErrorType string    `json:"error_type"`
	At        time.Time `json:"at"`
}

// PatternStored publishes that a learned pattern was written.
func (p *Publisher) PatternStored(errorType string) {
	if p == nil {
		return
	}
	p.publish("pattern", p.prefix+".pattern.stored", PatternEvent{
		ErrorType: errorType,
		At:        time.Now().UTC(),
	})
}

func (p *Publisher) publish(kind, subject string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("event payload marshal failed", zap.String("subject", subject), zap.Error(err))
		publishErrors.WithLabelValues(kind).Inc()
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("event publish failed", zap.String("subject", subject), zap.Error(err))
		publishErrors.WithLabelValues(kind).Inc()
		return
	}
	publishedTotal.WithLabelValues(kind).Inc()
}
