package exec

import (
	"errors"
	"testing"

	"dkvbatch/internal/partition"
)

func TestStatusIsRetriable(t *testing.T) {
	cases := map[StatusKind]bool{
		StatusTimeout:           true,
		StatusNoMoreConnections: true,
		StatusInvalidNode:       false,
		StatusClusterEmpty:      false,
		StatusStopBatch:         false,
		StatusProtocolViolation: false,
		StatusClientAbort:       false,
	}
	for kind, want := range cases {
		if got := kind.IsRetriable(); got != want {
			t.Errorf("%v.IsRetriable() = %v, want %v", kind, got, want)
		}
	}
}

func TestAsStatusPreservesExisting(t *testing.T) {
	orig := NewStatus(StatusTimeout, "slow node", nil)
	if got := AsStatus(orig, StatusClientAbort); got != orig {
		t.Fatalf("AsStatus should return the same *Status unchanged, got %v", got)
	}

	plain := errors.New("boom")
	wrapped := AsStatus(plain, StatusClientAbort)
	if wrapped.Kind != StatusClientAbort {
		t.Fatalf("expected fallback kind, got %v", wrapped.Kind)
	}
	if !errors.Is(wrapped, plain) {
		t.Fatalf("wrapped status should unwrap to original error")
	}
}

func TestExecuteSyncSequentialStopsAtFirstError(t *testing.T) {
	var ran []int
	sentinel := errors.New("node down")
	tasks := []SyncTask{
		{Command: &Command{}, Run: func(c *Command) error { ran = append(ran, 1); return nil }},
		{Command: &Command{}, Run: func(c *Command) error { ran = append(ran, 2); return sentinel }},
		{Command: &Command{}, Run: func(c *Command) error { ran = append(ran, 3); return nil }},
	}
	st := ExecuteSync(tasks, nil, false)
	if st == nil || st.Cause != sentinel {
		t.Fatalf("expected wrapped sentinel error, got %v", st)
	}
	if len(ran) != 2 {
		t.Fatalf("expected sequential execution to stop after the failing task, ran=%v", ran)
	}
}

func TestExecuteSyncConcurrentFirstErrorWins(t *testing.T) {
	// 8 workers give a queue of 32, so all 20 tasks enqueue and the
	// reported error comes from a task, not from an enqueue failure.
	pool := NewWorkerPool(8)
	defer pool.Close()

	n := 20
	tasks := make([]SyncTask, n)
	for i := 0; i < n; i++ {
		i := i
		tasks[i] = SyncTask{Command: &Command{}, Run: func(c *Command) error {
			if i%5 == 0 {
				return NewStatus(StatusTimeout, "timed out", nil)
			}
			return nil
		}}
	}
	st := ExecuteSync(tasks, pool, true)
	if st == nil {
		t.Fatal("expected a non-nil status given several failing tasks")
	}
	if st.Kind != StatusTimeout {
		t.Fatalf("expected StatusTimeout, got %v", st.Kind)
	}
}

func TestAsyncExecutorFiresOnDoneOnce(t *testing.T) {
	var doneCount int
	var lastErr error
	e := NewAsyncExecutor(3, func(err error) {
		doneCount++
		lastErr = err
	})
	if !e.Valid() {
		t.Fatal("executor should start valid")
	}
	e.CommandDone(nil)
	e.CommandDone(errors.New("node reset"))
	if e.Valid() {
		t.Fatal("executor should be invalid after a failing command")
	}
	e.CommandDone(nil)
	if doneCount != 1 {
		t.Fatalf("onDone should fire exactly once, fired %d times", doneCount)
	}
	if lastErr == nil {
		t.Fatal("expected the first error to be reported")
	}
}

func TestDeclineIfSameNode(t *testing.T) {
	a := partition.NodeRef{ID: "node-a"}
	b := partition.NodeRef{ID: "node-b"}

	if !DeclineIfSameNode([]partition.NodeRef{a, a}, a) {
		t.Fatal("expected decline when every replanned node matches the original")
	}
	if DeclineIfSameNode([]partition.NodeRef{a, b}, a) {
		t.Fatal("expected no decline when replanning reaches a different node")
	}
	if DeclineIfSameNode(nil, a) {
		t.Fatal("empty replan should not be treated as a decline")
	}
}

func TestFlipMasterSC(t *testing.T) {
	if got := FlipMasterSC(true, true, partition.ReadModeSCLinearize); got != true {
		t.Fatalf("linearized timeout must not flip masterSC, got %v", got)
	}
	if got := FlipMasterSC(true, false, partition.ReadModeSCLinearize); got != false {
		t.Fatalf("non-timeout linearized retry should still flip, got %v", got)
	}
	if got := FlipMasterSC(true, true, partition.ReadModeSCSession); got != false {
		t.Fatalf("session-mode timeout should flip, got %v", got)
	}
}

func TestShouldSplitRetry(t *testing.T) {
	if !ShouldSplitRetry(StatusTimeout) {
		t.Fatal("timeout should split-retry")
	}
	if ShouldSplitRetry(StatusStopBatch) {
		t.Fatal("stop-batch result codes must not trigger a split retry")
	}
}

func TestRoundCommandBuffer(t *testing.T) {
	cases := []struct {
		payloadLen int
		want       int
	}{
		{0, bufferRoundBoundary},
		{1, bufferRoundBoundary},
		{bufferRoundBoundary - authHeadroom, bufferRoundBoundary},
		{bufferRoundBoundary - authHeadroom + 1, 2 * bufferRoundBoundary},
		{10000, 2 * bufferRoundBoundary},
	}
	for _, c := range cases {
		if got := RoundCommandBuffer(c.payloadLen); got != c.want {
			t.Errorf("RoundCommandBuffer(%d) = %d, want %d", c.payloadLen, got, c.want)
		}
	}
}
