package events

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rcad/internal/config"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestConnect_DisabledWithoutURL(t *testing.T) {
	p, err := Connect(config.EventsConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher
	p.Analysis("a1", "12345", PhaseStarted)
	p.ScanCompleted(10, 4)
	p.PatternStored("KeyError")
	p.Close()
}

func TestAnalysisLifecycleSubjects(t *testing.T) {
	server := startTestNATSServer(t)

	p, err := Connect(config.EventsConfig{NATSURL: server.ClientURL()}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, p)
	t.Cleanup(p.Close)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	ch := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe("rca.analysis.>", ch)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()
	require.NoError(t, nc.Flush())

	p.Analysis("abc-123", "12345", PhaseStarted)
	p.Analysis("abc-123", "12345", PhaseCompleted)

	msg := receive(t, ch)
	assert.Equal(t, "rca.analysis.abc-123.started", msg.Subject)

	var ev AnalysisEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "abc-123", ev.AnalysisID)
	assert.Equal(t, "12345", ev.IssueID)
	assert.Equal(t, PhaseStarted, ev.Phase)
	assert.False(t, ev.At.IsZero())

	msg = receive(t, ch)
	assert.Equal(t, "rca.analysis.abc-123.completed", msg.Subject)
}

func TestScanAndPatternSubjects(t *testing.T) {
	server := startTestNATSServer(t)

	p, err := Connect(config.EventsConfig{
		NATSURL:       server.ClientURL(),
		SubjectPrefix: "rcadtest",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(p.Close)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	ch := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe("rcadtest.>", ch)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()
	require.NoError(t, nc.Flush())

	p.ScanCompleted(42, 7)
	p.PatternStored("DatabaseError")

	msg := receive(t, ch)
	assert.Equal(t, "rcadtest.scan.completed", msg.Subject)
	var scan ScanEvent
	require.NoError(t, json.Unmarshal(msg.Data, &scan))
	assert.Equal(t, 42, scan.TotalFound)
	assert.Equal(t, 7, scan.QueuedCount)

	msg = receive(t, ch)
	assert.Equal(t, "rcadtest.pattern.stored", msg.Subject)
	var pattern PatternEvent
	require.NoError(t, json.Unmarshal(msg.Data, &pattern))
	assert.Equal(t, "DatabaseError", pattern.ErrorType)
}

func receive(t *testing.T, ch <-chan *nats.Msg) *nats.Msg {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}
