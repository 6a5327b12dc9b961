package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/rcad/internal/oracle"
)

func seedRegistry(t *testing.T) *registry {
	t.Helper()
	r := newRegistry()
	r.add(&Record{ID: "a1", IssueID: "500", Status: StatusAnalyzing, CreatedAt: time.Now()}, func() {})
	return r
}

func TestRegistry_AppendRefusedAfterTerminal(t *testing.T) {
	r := seedRegistry(t)
	r.appendEvent("a1", Event{Type: oracle.EventStatus, Message: "one"})
	require.True(t, r.markCancelled("a1"))

	// A stray event from the dying task must not trail the cancellation.
	r.appendEvent("a1", Event{Type: oracle.EventThinking, Message: "late"})

	rec, ok := r.snapshot("a1")
	require.True(t, ok)
	require.Len(t, rec.Events, 2)
	assert.Equal(t, oracle.EventError, rec.Events[1].Type)
	assert.Equal(t, cancelMessage, rec.Events[1].Message)
}

func TestRegistry_FirstFinisherWins(t *testing.T) {
	r := seedRegistry(t)
	res := &Result{IssueID: "500"}

	require.True(t, r.completeWithResult("a1", res))
	assert.False(t, r.markCancelled("a1"))
	assert.False(t, r.failWithError("a1", "late failure"))

	rec, ok := r.snapshot("a1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Same(t, res, rec.Result)
	assert.Empty(t, rec.Error)

	r.add(&Record{ID: "a2", IssueID: "501", Status: StatusAnalyzing, CreatedAt: time.Now()}, func() {})
	require.True(t, r.markCancelled("a2"))
	assert.False(t, r.completeWithResult("a2", res))
	st, _ := r.status("a2")
	assert.Equal(t, StatusCancelled, st)
}

func TestRegistry_UnknownIDs(t *testing.T) {
	r := newRegistry()
	assert.False(t, r.completeWithResult("nope", &Result{}))
	assert.False(t, r.failWithError("nope", "x"))
	assert.False(t, r.markCancelled("nope"))
	_, ok := r.status("nope")
	assert.False(t, ok)
	_, _, ok = r.eventsSince("nope", 0)
	assert.False(t, ok)
	_, claimed := r.beginPR("nope")
	assert.False(t, claimed)
}

func TestRegistry_BeginPRClaims(t *testing.T) {
	r := seedRegistry(t)

	state, claimed := r.beginPR("a1")
	require.True(t, claimed)
	assert.Equal(t, PRStateCreating, state)

	// In-flight creation is not claimable.
	state, claimed = r.beginPR("a1")
	assert.False(t, claimed)
	assert.Equal(t, PRStateCreating, state)

	r.finishPR("a1", PRStateCreated, &oracle.PRResult{URL: "u", Number: 3, Branch: "b"}, "")
	state, claimed = r.beginPR("a1")
	assert.False(t, claimed)
	assert.Equal(t, PRStateCreated, state)

	// A failed attempt is claimable again and clears the old error.
	r.finishPR("a1", PRStateFailed, nil, "conflict")
	state, claimed = r.beginPR("a1")
	require.True(t, claimed)
	assert.Equal(t, PRStateCreating, state)
	rec, _ := r.snapshot("a1")
	assert.Empty(t, rec.PRError)
}

func TestRegistry_SnapshotCopiesEvents(t *testing.T) {
	r := seedRegistry(t)
	r.appendEvent("a1", Event{Type: oracle.EventStatus, Message: "one"})

	rec, ok := r.snapshot("a1")
	require.True(t, ok)
	rec.Events[0].Message = "mutated"

	fresh, _ := r.snapshot("a1")
	assert.Equal(t, "one", fresh.Events[0].Message)
}

func TestRegistry_CancelFuncLifecycle(t *testing.T) {
	r := seedRegistry(t)

	fn, ok := r.cancelFunc("a1")
	require.True(t, ok)
	require.NotNil(t, fn)

	r.dropCancel("a1")
	_, ok = r.cancelFunc("a1")
	assert.False(t, ok)
}
