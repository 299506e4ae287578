package dispatch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/pkg/agent"
	"caseflow/pkg/eventlog"
	"caseflow/pkg/evidence"
	"caseflow/pkg/persistence"
	"caseflow/pkg/pipeline"
	"caseflow/pkg/proto"
	"caseflow/pkg/stage"
)

func testStore(t *testing.T) *persistence.Store {
	t.Helper()
	if !persistence.IsInitialized() {
		require.NoError(t, persistence.Initialize(filepath.Join(t.TempDir(), "dispatch.db")))
	}
	return persistence.Ops()
}

func testDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	store := testStore(t)
	events, err := eventlog.NewWriter(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	invoker := pipeline.NewInvoker(agent.NewSimulatorClient("mock"), nil)
	return NewDispatcher(cfg, store, events, NewBroker(nil), invoker, stage.NewRegistry())
}

func testJob(t *testing.T, caseID string) Job {
	t.Helper()
	set, err := evidence.NewSet([]evidence.Snippet{
		{SnippetID: "hf_guidelines_1", Text: "HF guideline", SourceID: "s1", SourceType: "guideline"},
	})
	require.NoError(t, err)
	return Job{
		CaseID: caseID,
		UserID: "user-d",
		Input: &stage.CaseInput{
			PatientSummary: "72yo with dyspnea and edema",
			Evidence:       set,
		},
	}
}

func waitForStatus(t *testing.T, store *persistence.Store, caseID string, want proto.CaseStatus) *persistence.Case {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		c, err := store.GetCase(caseID, "")
		require.NoError(t, err)
		if c.Status == want {
			return c
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("case %s never reached status %s", caseID, want)
	return nil
}

func TestDispatcherRunsCaseToCompletion(t *testing.T) {
	d := testDispatcher(t, Config{Workers: 1})
	store := testStore(t)

	job := testJob(t, "dispatch-complete")
	require.NoError(t, store.CreateCase(&persistence.Case{CaseID: job.CaseID, UserID: job.UserID}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	// Subscribe before enqueueing so every event is observed.
	events, cancelSub := d.Broker().Subscribe(job.CaseID)
	defer cancelSub()

	require.NoError(t, d.Enqueue(job))

	c := waitForStatus(t, store, job.CaseID, proto.StatusCompleted)
	assert.NotEmpty(t, c.FinalDocument)

	// Seven stage events were broadcast, ending with the final document.
	var kinds []proto.EventKind
	timeout := time.After(5 * time.Second)
	for len(kinds) < 7 {
		select {
		case e := <-events:
			kinds = append(kinds, e.Kind)
		case <-timeout:
			t.Fatalf("received only %d events", len(kinds))
		}
	}
	assert.Equal(t, proto.EventFinal, kinds[6])

	// Events were also persisted as case messages.
	msgs, err := store.GetMessages(job.CaseID, job.UserID)
	require.NoError(t, err)
	assert.Len(t, msgs, 7)
}

func TestDispatcherMarksFailedCase(t *testing.T) {
	d := testDispatcher(t, Config{Workers: 1})
	store := testStore(t)

	// Empty patient summary fails validation before any stage runs.
	job := testJob(t, "dispatch-fail")
	job.Input.PatientSummary = ""
	require.NoError(t, store.CreateCase(&persistence.Case{CaseID: job.CaseID, UserID: job.UserID}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	require.NoError(t, d.Enqueue(job))

	c := waitForStatus(t, store, job.CaseID, proto.StatusError)
	assert.Contains(t, c.RunError, "configuration error")
	assert.Empty(t, c.FinalDocument)
}

func TestEnqueueFullQueue(t *testing.T) {
	// No workers started, so jobs sit in the queue.
	d := testDispatcher(t, Config{Workers: 1, QueueSize: 1})

	require.NoError(t, d.Enqueue(testJob(t, "q-1")))
	err := d.Enqueue(testJob(t, "q-2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue is full")
	assert.Equal(t, 1, d.QueueDepth())
}

func TestEnqueueAfterStop(t *testing.T) {
	d := testDispatcher(t, Config{Workers: 1})
	d.Stop()

	err := d.Enqueue(testJob(t, "q-stopped"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped")
}
