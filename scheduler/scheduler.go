package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jbeck018/crewflow-go/event"
)

// RegisterOptions configures a flow at registration time.
type RegisterOptions struct {
	DependsOn []string
	Priority  int
	Metadata  map[string]any
}

// FlowScheduler runs many flows whose inter-flow dependencies form a DAG,
// under bounded parallelism. It owns its own RNG and metrics instance —
// never a package-level singleton — so multiple schedulers in the same
// process never share jitter state or collide on metric registration.
type FlowScheduler struct {
	mu         sync.Mutex
	nodes      map[string]*FlowNode
	order      []string            // registration order; FIFO tiebreak for equal priority
	downstream map[string][]string // from -> []to, forward adjacency for cycle checks and CPM
	incoming   map[string][]FlowEdge

	cfg     Config
	bus     *event.Bus
	rng     *rand.Rand
	metrics *SchedulerMetrics
}

// New builds an empty scheduler. bus and metrics may both be nil.
func New(cfg Config, bus *event.Bus, metrics *SchedulerMetrics) *FlowScheduler {
	return &FlowScheduler{
		nodes:      make(map[string]*FlowNode),
		downstream: make(map[string][]string),
		incoming:   make(map[string][]FlowEdge),
		cfg:        cfg,
		bus:        bus,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- retry jitter only
		metrics:    metrics,
	}
}

// RegisterFlow adds a flow node. Dependencies named in opts.DependsOn need
// not already be registered (they may be registered later in the same
// build-up phase); existence is checked at Execute time. Adding a
// dependency that would close a cycle fails immediately, even against a
// not-yet-registered dependency id, since the cycle check works purely
// over ids.
func (s *FlowScheduler) RegisterFlow(id string, run Runnable, opts RegisterOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		return &FlowValidationError{Message: "flow id cannot be empty", Code: "EMPTY_ID"}
	}
	if _, exists := s.nodes[id]; exists {
		return &FlowValidationError{Message: "duplicate flow id", Code: "DUPLICATE_ID", FlowID: id}
	}

	for _, dep := range opts.DependsOn {
		if s.wouldCreateCycleLocked(dep, id) {
			return &FlowValidationError{Message: "dependency " + dep + " would create a cycle", Code: "CYCLE", FlowID: id}
		}
	}

	node := &FlowNode{
		ID:        id,
		Run:       run,
		DependsOn: append([]string(nil), opts.DependsOn...),
		Priority:  opts.Priority,
		Metadata:  opts.Metadata,
		status:    StatusPending,
	}
	s.nodes[id] = node
	s.order = append(s.order, id)

	for _, dep := range opts.DependsOn {
		s.downstream[dep] = append(s.downstream[dep], id)
		s.incoming[id] = append(s.incoming[id], FlowEdge{From: dep, To: id})
	}

	return nil
}

// AddDependency adds an explicit edge between two already-registered flows,
// optionally gating the successor on a condition over the predecessor's
// result and remapping the predecessor's result into the successor's
// inputs. Fails if either id is unregistered or the edge would close a
// cycle.
func (s *FlowScheduler) AddDependency(from, to string, condition EdgeCondition, mapping DataMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[from]; !ok {
		return &FlowValidationError{Message: "unknown flow", Code: "UNKNOWN_FLOW", FlowID: from}
	}
	toNode, ok := s.nodes[to]
	if !ok {
		return &FlowValidationError{Message: "unknown flow", Code: "UNKNOWN_FLOW", FlowID: to}
	}
	if s.wouldCreateCycleLocked(from, to) {
		return &FlowValidationError{Message: "dependency " + from + " -> " + to + " would create a cycle", Code: "CYCLE", FlowID: to}
	}

	toNode.DependsOn = append(toNode.DependsOn, from)
	s.downstream[from] = append(s.downstream[from], to)
	s.incoming[to] = append(s.incoming[to], FlowEdge{From: from, To: to, Condition: condition, DataMapping: mapping})
	return nil
}

// wouldCreateCycleLocked reports whether adding edge from->to would close a
// cycle, via BFS from to toward from over the existing downstream edges
// (Design Note §9: "wouldCreateCycle check (BFS from to toward from)").
// Caller must hold s.mu.
func (s *FlowScheduler) wouldCreateCycleLocked(from, to string) bool {
	if from == to {
		return true
	}
	visited := map[string]bool{to: true}
	queue := []string{to}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range s.downstream[cur] {
			if next == from {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

func defaultMaxConcurrent() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	return n
}

// effectiveMaxConcurrent applies the memoryThrottling linear reduction:
// once heap usage crosses 80% of MemoryLimitMB, the concurrency cap shrinks
// proportionally to how far over that threshold usage has climbed, down to
// a floor of 1.
func (s *FlowScheduler) effectiveMaxConcurrent() int {
	base := s.cfg.MaxConcurrent
	if base <= 0 {
		base = defaultMaxConcurrent()
	}
	if !s.cfg.MemoryThrottling || s.cfg.MemoryLimitMB <= 0 {
		return base
	}

	var heapBytes uint64
	if s.cfg.memStatsFn != nil {
		heapBytes = s.cfg.memStatsFn()
	} else {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		heapBytes = ms.HeapAlloc
	}

	heapMB := float64(heapBytes) / (1024 * 1024)
	limitMB := float64(s.cfg.MemoryLimitMB)
	utilization := heapMB / limitMB
	if utilization <= 0.8 {
		return base
	}
	if utilization > 1 {
		utilization = 1
	}
	reduced := base - int(float64(base-1)*((utilization-0.8)/0.2))
	if reduced < 1 {
		reduced = 1
	}
	return reduced
}

type completion struct {
	id       string
	result   any
	err      error
	duration time.Duration
}

// Execute runs every registered flow to completion under the scheduler's
// configuration, blocking until the run terminates (every node reached a
// terminal state, a deadlock was detected, or the total timeout fired).
// The returned error is the scheduler-level error (deadlock or total
// timeout) when one ended the run, otherwise the error recorded on the
// first failed flow in registration order, or nil when no flow failed. A
// DependsOn id that was never registered fails Execute up front with a
// *FlowValidationError.
func (s *FlowScheduler) Execute(ctx context.Context, inputData map[string]any) (ExecutionResult, error) {
	s.mu.Lock()
	order := append([]string(nil), s.order...)
	for _, id := range order {
		for _, dep := range s.nodes[id].DependsOn {
			if _, ok := s.nodes[dep]; !ok {
				s.mu.Unlock()
				return ExecutionResult{}, &FlowValidationError{
					Message: "dependency " + dep + " is not registered", Code: "UNKNOWN_DEPENDENCY", FlowID: id,
				}
			}
		}
	}
	s.mu.Unlock()

	runCtx := ctx
	if s.cfg.TotalTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.TotalTimeout)
		defer cancel()
	}

	runID := uuid.NewString()
	startedAt := time.Now()

	results := make(map[string]any, len(order))
	errs := make(map[string]error)
	running := make(map[string]*FlowNode, len(order))
	done := make(chan completion, len(order)*4+16)

	var (
		lastStart         time.Time
		failFastTriggered bool
		runErr            error
	)

	var checkpointTicker *time.Ticker
	if s.cfg.CheckpointInterval > 0 && s.cfg.Checkpointer != nil {
		checkpointTicker = time.NewTicker(s.cfg.CheckpointInterval)
		defer checkpointTicker.Stop()
	}
	stepID := 0

loop:
	for {
		s.reconcileCascades(results)

		ready := s.readySet()
		s.metrics.setReady(len(ready))

		for len(ready) > 0 && len(running) < s.effectiveMaxConcurrent() {
			next := ready[0]
			ready = ready[1:]

			if s.cfg.MinExecutionDelay > 0 {
				if elapsed := time.Since(lastStart); elapsed < s.cfg.MinExecutionDelay && !lastStart.IsZero() {
					time.Sleep(s.cfg.MinExecutionDelay - elapsed)
				}
			}

			s.startFlow(runCtx, next, inputData, results, done)
			running[next.ID] = next
			lastStart = time.Now()
		}
		s.metrics.setRunning(len(running))

		if len(ready) == 0 && len(running) == 0 {
			// A pending flow still waiting out its retry backoff can make
			// progress, so wait for the earliest one instead of a deadlock.
			var retryAt time.Time
			for _, id := range s.pendingIDs() {
				n := s.nodes[id]
				n.mu.Lock()
				if nb := n.retryNotBefore; nb.After(time.Now()) && (retryAt.IsZero() || nb.Before(retryAt)) {
					retryAt = nb
				}
				n.mu.Unlock()
			}
			if !retryAt.IsZero() {
				time.Sleep(time.Until(retryAt))
				continue
			}
			if pending := s.pendingIDs(); len(pending) > 0 {
				runErr = &DeadlockError{Pending: pending}
				s.metrics.incDeadlock()
				s.emit("", event.KindDeadlock, map[string]any{"pending": pending})
			}
			break loop
		}

		if checkpointTicker != nil {
			select {
			case <-checkpointTicker.C:
				stepID++
				if cp, err := s.checkpoint(runID, stepID); err == nil {
					_ = s.cfg.Checkpointer.SaveCheckpoint(runCtx, cp)
					s.metrics.incCheckpoint()
				}
			default:
			}
		}

		select {
		case c := <-done:
			delete(running, c.id)
			node := s.nodes[c.id]
			s.handleCompletion(runCtx, node, c, results, errs, &failFastTriggered, running)

		case <-runCtx.Done():
			runErr = &TimeoutError{Scope: "run", Limit: s.cfg.TotalTimeout.String()}
			s.cancelAllRunning(running)
			s.drainAfterCancel(done, running)
			break loop
		}
	}

	elapsed := time.Since(startedAt)
	completedIDs, failedIDs, skippedIDs, cancelledIDs := s.collectTerminalIDs()
	if runErr == nil && len(failedIDs) > 0 {
		_, _, runErr, _ = s.nodes[failedIDs[0]].snapshot()
	}
	criticalPath, criticalPathTime := s.computeCriticalPathNow()

	result := ExecutionResult{
		Successful:                runErr == nil && len(failedIDs) == 0 && !failFastTriggered,
		Completed:                 completedIDs,
		Failed:                    failedIDs,
		Skipped:                   skippedIDs,
		Cancelled:                 cancelledIDs,
		Results:                   results,
		Errors:                    errs,
		ExecutionTime:             elapsed,
		CriticalPath:              criticalPath,
		CriticalPathExecutionTime: criticalPathTime,
		Err:                       runErr,
	}
	return result, runErr
}

// buildInputs merges the scheduler-level inputData with each predecessor's
// contribution: edge.DataMapping(result) if set, else {predecessorID:
// result}.
func (s *FlowScheduler) buildInputs(base map[string]any, edges []FlowEdge, results map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(edges))
	for k, v := range base {
		merged[k] = v
	}
	for _, edge := range edges {
		res := results[edge.From]
		if edge.DataMapping != nil {
			for k, v := range edge.DataMapping(res) {
				merged[k] = v
			}
			continue
		}
		merged[edge.From] = res
	}
	return merged
}

func (s *FlowScheduler) startFlow(ctx context.Context, node *FlowNode, inputData map[string]any, results map[string]any, done chan<- completion) {
	node.mu.Lock()
	node.status = StatusRunning
	node.attempts++
	node.startTime = time.Now()
	flowCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.ExecutionTimeout > 0 {
		flowCtx, cancel = context.WithTimeout(ctx, s.cfg.ExecutionTimeout)
	} else {
		flowCtx, cancel = context.WithCancel(ctx)
	}
	node.cancel = cancel
	node.mu.Unlock()

	inputs := s.buildInputs(inputData, s.incoming[node.ID], results)
	s.emit(node.ID, event.KindFlowDispatched, nil)
	if s.cfg.Hooks.BeforeExecution != nil {
		s.cfg.Hooks.BeforeExecution(flowCtx, node.ID)
	}

	go func() {
		start := time.Now()
		result, err := node.Run(flowCtx, inputs)
		if flowCtx.Err() == context.DeadlineExceeded {
			err = &TimeoutError{Scope: "flow", FlowID: node.ID, Limit: s.cfg.ExecutionTimeout.String()}
			s.emit(node.ID, event.KindFlowTimedOut, nil)
		}
		cancel()
		done <- completion{id: node.ID, result: result, err: err, duration: time.Since(start)}
	}()
}

func (s *FlowScheduler) handleCompletion(ctx context.Context, node *FlowNode, c completion, results map[string]any, errs map[string]error, failFastTriggered *bool, running map[string]*FlowNode) {
	node.mu.Lock()
	node.endTime = time.Now()
	attempts := node.attempts
	node.mu.Unlock()

	if s.cfg.Hooks.AfterExecution != nil {
		s.cfg.Hooks.AfterExecution(ctx, node.ID, c.result, c.err)
	}

	if c.err == nil {
		node.setStatus(StatusSuccessful)
		node.mu.Lock()
		node.result = c.result
		node.mu.Unlock()
		results[node.ID] = c.result
		s.metrics.observeLatency(node.ID, "success", c.duration)
		s.emit(node.ID, event.KindFlowFinished, nil)
		return
	}

	node.mu.Lock()
	wasCancelRequested := node.cancelRequested
	node.mu.Unlock()
	if wasCancelRequested && errors.Is(c.err, context.Canceled) {
		cancelErr := &CancellationError{FlowID: node.ID, Reason: "failFast cascade: a sibling flow failed"}
		node.setStatus(StatusCancelled)
		node.mu.Lock()
		node.err = cancelErr
		node.mu.Unlock()
		errs[node.ID] = cancelErr
		s.metrics.observeLatency(node.ID, "cancelled", c.duration)
		s.emit(node.ID, event.KindFlowFailed, map[string]any{"error": cancelErr.Error()})
		return
	}

	s.metrics.observeLatency(node.ID, "error", c.duration)

	onErrorRetry := false
	if s.cfg.Hooks.OnError != nil {
		onErrorRetry = s.cfg.Hooks.OnError(ctx, node.ID, c.err)
	}
	transientAndUnderLimit := s.cfg.Retry.transient(c.err) && attempts < s.cfg.Retry.maxAttempts()

	if transientAndUnderLimit || onErrorRetry {
		delay := computeBackoff(attempts-1, s.cfg.Retry.BaseDelay, s.cfg.Retry.MaxDelay, s.rng)
		node.mu.Lock()
		node.status = StatusPending
		node.retryNotBefore = time.Now().Add(delay)
		node.mu.Unlock()
		s.metrics.incRetry(node.ID)
		s.emit(node.ID, event.KindFlowRetried, map[string]any{"attempt": attempts, "error": c.err.Error()})
		return
	}

	node.setStatus(StatusFailed)
	node.mu.Lock()
	node.err = c.err
	node.mu.Unlock()
	errs[node.ID] = c.err
	s.emit(node.ID, event.KindFlowFailed, map[string]any{"error": c.err.Error()})

	if s.cfg.FailFast {
		*failFastTriggered = true
		s.cancelAllRunning(running)
	}
}

// reconcileCascades applies step 6 of the scheduling algorithm: a pending
// node whose dependency failed is cascade-failed when FailFast is set;
// otherwise a pending node whose dependency's edge condition evaluated
// false is marked skipped.
func (s *FlowScheduler) reconcileCascades(results map[string]any) {
	for _, id := range s.order {
		node := s.nodes[id]
		status, _, _, _ := node.snapshot()
		if status != StatusPending {
			continue
		}

		depFailed := false
		conditionFailed := false
		for _, edge := range s.incoming[id] {
			dep := s.nodes[edge.From]
			depStatus, depResult, _, _ := dep.snapshot()
			switch depStatus {
			case StatusFailed, StatusCancelled:
				depFailed = true
			case StatusSuccessful:
				if edge.Condition != nil && !edge.Condition(depResult) {
					conditionFailed = true
				}
			}
		}

		switch {
		case depFailed && s.cfg.FailFast:
			node.mu.Lock()
			node.status = StatusFailed
			node.err = &CancellationError{FlowID: id, Reason: "dependency failed (failFast)"}
			node.mu.Unlock()
			s.metrics.incCascade(id, "fail_fast")
		case conditionFailed:
			node.setStatus(StatusSkipped)
			s.metrics.incCascade(id, "condition_false")
		}
	}
}

// readySet returns pending nodes whose dependencies are all successful
// (with no failing edge condition) and whose retry backoff (if any) has
// elapsed, sorted by priority descending then registration order.
func (s *FlowScheduler) readySet() []*FlowNode {
	now := time.Now()
	var ready []*FlowNode
	for _, id := range s.order {
		node := s.nodes[id]
		status, _, _, _ := node.snapshot()
		if status != StatusPending {
			continue
		}

		node.mu.Lock()
		notBefore := node.retryNotBefore
		node.mu.Unlock()
		if notBefore.After(now) {
			continue
		}

		allSuccessful := true
		for _, edge := range s.incoming[id] {
			depStatus, depResult, _, _ := s.nodes[edge.From].snapshot()
			if depStatus != StatusSuccessful {
				allSuccessful = false
				break
			}
			if edge.Condition != nil && !edge.Condition(depResult) {
				allSuccessful = false
				break
			}
		}
		if allSuccessful {
			ready = append(ready, node)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool { return ready[i].Priority > ready[j].Priority })
	return ready
}

func (s *FlowScheduler) pendingIDs() []string {
	var pending []string
	for _, id := range s.order {
		if status, _, _, _ := s.nodes[id].snapshot(); status == StatusPending {
			pending = append(pending, id)
		}
	}
	return pending
}

func (s *FlowScheduler) cancelAllRunning(running map[string]*FlowNode) {
	for _, node := range running {
		node.mu.Lock()
		cancel := node.cancel
		node.cancelRequested = true
		node.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
}

// drainAfterCancel waits briefly for cancelled goroutines to report back so
// their terminal status is recorded before the run returns, then marks any
// stragglers cancelled outright.
func (s *FlowScheduler) drainAfterCancel(done <-chan completion, running map[string]*FlowNode) {
	deadline := time.After(time.Second)
	for len(running) > 0 {
		select {
		case c := <-done:
			delete(running, c.id)
			node := s.nodes[c.id]
			if c.err == nil {
				node.setStatus(StatusSuccessful)
				node.mu.Lock()
				node.result = c.result
				node.mu.Unlock()
			} else {
				node.setStatus(StatusFailed)
				node.mu.Lock()
				node.err = c.err
				node.mu.Unlock()
			}
		case <-deadline:
			for id, node := range running {
				node.setStatus(StatusCancelled)
				node.mu.Lock()
				node.err = &CancellationError{FlowID: id, Reason: "total timeout"}
				node.mu.Unlock()
				delete(running, id)
			}
		}
	}
}

func (s *FlowScheduler) collectTerminalIDs() (completed, failed, skipped, cancelled []string) {
	for _, id := range s.order {
		switch status, _, _, _ := s.nodes[id].snapshot(); status {
		case StatusSuccessful:
			completed = append(completed, id)
		case StatusFailed:
			failed = append(failed, id)
		case StatusSkipped:
			skipped = append(skipped, id)
		case StatusCancelled:
			cancelled = append(cancelled, id)
		}
	}
	return
}

func (s *FlowScheduler) computeCriticalPathNow() ([]string, time.Duration) {
	dependsOn := make(map[string][]string, len(s.order))
	durations := make(map[string]time.Duration, len(s.order))
	for _, id := range s.order {
		node := s.nodes[id]
		dependsOn[id] = append([]string(nil), node.DependsOn...)
		node.mu.Lock()
		if !node.startTime.IsZero() && !node.endTime.IsZero() {
			durations[id] = node.endTime.Sub(node.startTime)
		}
		node.mu.Unlock()
	}
	return computeCriticalPath(s.order, dependsOn, s.downstream, durations)
}

func (s *FlowScheduler) emit(flowID string, kind event.Kind, meta map[string]any) {
	if s.bus == nil {
		return
	}
	priority := event.PriorityNormal
	if kind == event.KindDeadlock || kind == event.KindFlowTimedOut {
		priority = event.PriorityHigh
	}
	s.bus.Publish(event.Event{FlowID: flowID, FlowName: flowID, Kind: kind, Priority: priority, Meta: meta})
}
