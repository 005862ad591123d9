package dkvbatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"dkvbatch/internal/batch"
	"dkvbatch/internal/exec"
	"dkvbatch/internal/obslog"
	"dkvbatch/internal/partition"
	"dkvbatch/internal/pipe"
	"dkvbatch/internal/wire"
)

// Client drives batch_read operations against a cluster described by
// a PartitionMap and reachable through a NodeDialer — the two
// external collaborators spec.md §1 leaves out of scope.
type Client struct {
	resolver *partition.Resolver
	dialer   *NodeDialer
	workers  *exec.WorkerPool
	pacer    *exec.RetryPacer
}

// NewClient wires partition resolution, the node dialer, and a
// worker pool of workerConcurrency goroutines for the synchronous
// path together into one client.
func NewClient(pmap PartitionMap, dialer *NodeDialer, workerConcurrency int) *Client {
	return &Client{
		resolver: partition.NewResolver(pmap),
		dialer:   dialer,
		workers:  exec.NewWorkerPool(workerConcurrency),
		pacer:    exec.NewRetryPacer(),
	}
}

// Close releases the client's worker pool and dialed connections.
func (c *Client) Close() error {
	c.workers.Close()
	return c.dialer.Close()
}

type nodeCounter interface{ NodeCount() int }

// BatchRead fills each record's slot synchronously, per spec.md §6.
func (c *Client) BatchRead(ctx context.Context, policy *Policy, records []*RecordRequest) error {
	if policy == nil {
		policy = NewPolicy()
	}
	resetSlots(records)
	if len(records) == 0 {
		return nil
	}
	if nc, ok := c.resolver.Map.(nodeCounter); ok && nc.NodeCount() == 0 {
		return newStatus(ClusterEmpty, "cluster is empty", nil)
	}
	return c.run(ctx, policy, records, false)
}

// BatchReadAsync schedules the operation and invokes listener exactly
// once with (error-or-nil, records) once every node's sub-batch has
// completed (spec.md §6). Per the E6 scenario, an empty record list
// invokes listener synchronously with a nil error and dispatches no
// commands.
func (c *Client) BatchReadAsync(ctx context.Context, policy *Policy, records []*RecordRequest, listener func(error, []*RecordRequest)) {
	if policy == nil {
		policy = NewPolicy()
	}
	resetSlots(records)
	if len(records) == 0 {
		listener(nil, records)
		return
	}
	if nc, ok := c.resolver.Map.(nodeCounter); ok && nc.NodeCount() == 0 {
		listener(newStatus(ClusterEmpty, "cluster is empty", nil), records)
		return
	}
	dispatch := pipe.NewListener(1)
	go func() {
		err := c.run(ctx, policy, records, true)
		var reported error
		if err != nil {
			reported = err
		}
		// Routed through a dispatcher (spec.md §4.E) rather than called
		// directly, so a listener that re-enters this call (issuing
		// another BatchReadAsync and acting on its own completion
		// inline) queues rather than recurses.
		dispatch.Dispatch(func() { listener(reported, records) })
	}()
}

// run drives the plan/execute/retry loop shared by the sync and async
// entry points (spec.md §2's data flow). async selects per-node
// dispatch via unpooled goroutines (the event-loop-flavored path)
// instead of the shared worker pool.
func (c *Client) run(ctx context.Context, policy *Policy, records []*RecordRequest, async bool) error {
	var deadline time.Time
	if policy.TotalTimeout > 0 {
		deadline = time.Now().Add(policy.TotalTimeout)
	}

	c.pacer.SetLimit(policy.RetryQPS, policy.RetryBurst)

	masterAP, masterSC := true, true
	iteration := 0
	pending := allOffsets(len(records))

	for {
		plan, err := c.planFor(records, pending, policy, masterAP, masterSC, iteration > 0)
		if err != nil {
			return mapPlanError(err)
		}

		var failed []uint32
		var failedNodes map[uint32]partition.NodeRef
		var status *exec.Status
		if async {
			failed, failedNodes, status = c.executeAsync(ctx, plan, records, policy, deadline)
		} else {
			failed, failedNodes, status = c.executeSync(ctx, plan, records, policy, deadline)
		}
		if status == nil {
			return nil
		}
		if iteration >= policy.MaxRetries || !status.Kind.IsRetriable() || (!deadline.IsZero() && time.Now().After(deadline)) {
			return status
		}

		isTimeout := status.Kind == Timeout
		newMasterSC := exec.FlipMasterSC(masterSC, isTimeout, policy.ReadModeSC)
		newMasterAP := exec.FlipMasterAP(masterAP)

		replanned, err := c.planFor(records, failed, policy, newMasterAP, newMasterSC, true)
		if err != nil {
			return mapPlanError(err)
		}
		if declinesSameNode(replanned, failedNodes, failed) {
			obslog.Warn("dkvbatch: split retry declined, same node on replan")
			newMasterAP, newMasterSC = masterAP, masterSC
		}
		replanned.Release()

		for _, node := range uniqueNodes(failedNodes) {
			if err := c.pacer.Wait(ctx, node); err != nil {
				return exec.NewStatus(exec.StatusClientAbort, "retry pacing canceled", err)
			}
		}

		masterAP, masterSC = newMasterAP, newMasterSC
		iteration++
		pending = failed
	}
}

// uniqueNodes returns the distinct nodes present in failedNodes, in no
// particular order, so the retry pacer is consulted once per node
// rather than once per failed offset.
func uniqueNodes(failedNodes map[uint32]partition.NodeRef) []partition.NodeRef {
	seen := make(map[string]bool, len(failedNodes))
	out := make([]partition.NodeRef, 0, len(failedNodes))
	for _, n := range failedNodes {
		if !seen[n.ID] {
			seen[n.ID] = true
			out = append(out, n)
		}
	}
	return out
}

func allOffsets(n int) []uint32 {
	offs := make([]uint32, n)
	for i := range offs {
		offs[i] = uint32(i)
	}
	return offs
}

func (c *Client) planFor(records []*RecordRequest, offsets []uint32, policy *Policy, masterAP, masterSC bool, isRetry bool) (*batch.Plan, error) {
	items := make([]batch.Item, len(offsets))
	for i, idx := range offsets {
		r := records[idx]
		items[i] = batch.Item{Index: idx, Namespace: r.Key.Namespace, Digest: r.Key.Digest}
	}
	opts := batch.PlanOptions{
		Replica:   policy.Replica,
		ReplicaSC: partition.EffectiveReplicaSC(policy.Replica, policy.ReadModeSC),
		Master:    masterAP,
		MasterSC:  masterSC,
		IsRetry:   isRetry,
	}
	return batch.Build(items, c.resolver, opts)
}

func mapPlanError(err error) error {
	var empty batch.ErrClusterEmpty
	if errors.As(err, &empty) {
		return newStatus(ClusterEmpty, "cluster is empty", err)
	}
	return newStatus(InvalidNode, "partition resolution failed", err)
}

// declinesSameNode implements testable property 4: if every offset
// that failed on the original plan's assignment maps back onto the
// exact same node in the replan, the split retry makes no progress.
func declinesSameNode(replanned *batch.Plan, failedNodes map[uint32]partition.NodeRef, failed []uint32) bool {
	if len(failed) == 0 {
		return false
	}
	origNode, ok := failedNodes[failed[0]]
	if !ok {
		return false
	}
	nodes := make([]partition.NodeRef, 0, len(replanned.Assignments))
	for _, a := range replanned.Assignments {
		nodes = append(nodes, a.Node)
	}
	return exec.DeclineIfSameNode(nodes, origNode)
}

// executeSync drives one plan's assignments on the shared worker
// pool (or sequentially), per spec.md §4.D's synchronous mode.
func (c *Client) executeSync(ctx context.Context, plan *batch.Plan, records []*RecordRequest, policy *Policy, deadline time.Time) ([]uint32, map[uint32]partition.NodeRef, *exec.Status) {
	var mu sync.Mutex
	var failed []uint32
	failedNodes := make(map[uint32]partition.NodeRef)

	tasks := make([]exec.SyncTask, len(plan.Assignments))
	for i := range plan.Assignments {
		a := plan.Assignments[i]
		tasks[i] = exec.SyncTask{
			Command: &exec.Command{Node: a.Node, Offsets: a.Offsets, Deadline: deadline, SocketTimeout: policy.SocketTimeout},
			Run: func(cmd *exec.Command) error {
				err := c.runAssignment(ctx, cmd.Node, cmd.Offsets, records, policy, true, true, deadline, false)
				if err != nil {
					undelivered := undeliveredOffsets(cmd.Offsets, records)
					mu.Lock()
					failed = append(failed, undelivered...)
					for _, o := range undelivered {
						failedNodes[o] = cmd.Node
					}
					mu.Unlock()
				}
				return err
			},
		}
	}

	status := exec.ExecuteSync(tasks, c.workers, policy.Concurrent && len(tasks) > 1)
	plan.Release()
	return failed, failedNodes, status
}

// executeAsync drives one plan's assignments each on its own
// goroutine, tracked by an AsyncExecutor, per spec.md §4.D's
// asynchronous mode.
func (c *Client) executeAsync(ctx context.Context, plan *batch.Plan, records []*RecordRequest, policy *Policy, deadline time.Time) ([]uint32, map[uint32]partition.NodeRef, *exec.Status) {
	var mu sync.Mutex
	var failed []uint32
	failedNodes := make(map[uint32]partition.NodeRef)
	var firstErr *exec.Status

	done := make(chan struct{})
	executor := exec.NewAsyncExecutor(len(plan.Assignments), func(error) { close(done) })

	for i := range plan.Assignments {
		a := plan.Assignments[i]
		go func() {
			err := c.runAssignment(ctx, a.Node, a.Offsets, records, policy, true, true, deadline, true)
			if err != nil {
				undelivered := undeliveredOffsets(a.Offsets, records)
				mu.Lock()
				if firstErr == nil {
					firstErr = exec.AsStatus(err, exec.StatusClientAbort)
				}
				failed = append(failed, undelivered...)
				for _, o := range undelivered {
					failedNodes[o] = a.Node
				}
				mu.Unlock()
			}
			executor.CommandDone(err)
		}()
	}
	<-done
	if max, queued, count := executor.Counts(); !executor.Valid() {
		obslog.Warn("dkvbatch: async round finished invalid: max=%d queued=%d count=%d", max, queued, count)
	}
	plan.Release()
	return failed, failedNodes, firstErr
}

func undeliveredOffsets(offsets []uint32, records []*RecordRequest) []uint32 {
	out := make([]uint32, 0, len(offsets))
	for _, o := range offsets {
		if int(o) < len(records) && !records[o].Delivered {
			out = append(out, o)
		}
	}
	return out
}

// runAssignment encodes, dispatches, and parses the response for one
// node's sub-batch, writing results directly into records by batch
// index (spec.md §4.B/§4.D). async requests the 8 KiB command-buffer
// rounding as_batch_read_execute_async applies; the synchronous path
// has no equivalent allocation to round, so it uses wire.Encode's
// tight estimate directly.
func (c *Client) runAssignment(ctx context.Context, node partition.NodeRef, offsets []uint32, records []*RecordRequest, policy *Policy, masterAP, masterSC bool, deadline time.Time, async bool) error {
	entries := make([]wire.BatchEntry, len(offsets))
	for i, idx := range offsets {
		r := records[idx]
		entries[i] = wire.BatchEntry{
			Index:     idx,
			Namespace: r.Key.Namespace,
			Set:       r.Key.Set,
			Digest:    r.Key.Digest,
			Bins:      r.Bins,
		}
	}

	opts := wire.RequestOptions{
		TotalTimeoutMillis: uint32(policy.TotalTimeout / time.Millisecond),
		ReadModeAP:         policy.ReadModeAP,
		ReadModeSC:         wire.ReadModeSC(policy.ReadModeSC),
		SendSetName:        policy.SendSetName,
		AllowInline:        policy.AllowInline,
		PredExp:            policy.PredExp,
	}
	var payload []byte
	if async {
		buf := make([]byte, 0, exec.RoundCommandBuffer(wire.EstimateSize(entries, opts)))
		payload = wire.EncodeInto(buf, entries, opts)
	} else {
		payload = wire.Encode(entries, opts)
	}

	pool, err := c.dialer.PoolFor(node)
	if err != nil {
		return exec.NewStatus(exec.StatusInvalidNode, "dial node", err)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return exec.NewStatus(exec.StatusNoMoreConnections, "acquire connection", err)
	}

	switch {
	case policy.SocketTimeout > 0:
		_ = conn.SetDeadline(time.Now().Add(policy.SocketTimeout))
	case !deadline.IsZero():
		_ = conn.SetDeadline(deadline)
	}

	total := uint32(len(records))
	sink := func(index uint32, rc wire.ResultCode, rec *wire.Record) error {
		if int(index) >= len(records) {
			return wire.ErrProtocolViolation
		}
		if rec != nil && policy.Deserialize {
			if err := rec.Materialize(); err != nil {
				return fmt.Errorf("dkvbatch: index %d: %w", index, err)
			}
		}
		records[index].Delivered = true
		records[index].ResultCode = rc
		records[index].Record = rec
		return nil
	}
	respCh, err := conn.Submit(payload, func(frame []byte) (bool, error) {
		return wire.ParseMessage(frame, total, sink)
	})
	if err != nil {
		return classifyWireError(err)
	}

	select {
	case perr := <-respCh:
		if perr != nil {
			return classifyWireError(perr)
		}
		return nil
	case <-ctx.Done():
		conn.Cancel(pipe.CancelTimeout)
		return exec.NewStatus(exec.StatusTimeout, "context canceled", ctx.Err())
	}
}

func classifyWireError(err error) *exec.Status {
	if err == nil {
		return nil
	}
	if s, ok := err.(*exec.Status); ok {
		return s
	}
	if errors.Is(err, wire.ErrProtocolViolation) {
		return exec.NewStatus(exec.StatusProtocolViolation, "protocol violation", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return exec.NewStatus(exec.StatusTimeout, "socket timeout", err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, pipe.ErrCanceled) {
		return exec.NewStatus(exec.StatusNoMoreConnections, "connection unavailable", err)
	}
	return exec.NewStatus(exec.StatusStopBatch, "stop-batch result", err)
}
