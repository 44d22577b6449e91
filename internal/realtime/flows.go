package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fablecraft/realtime-core/internal/protocol"
)

// Step is one stage of a progress flow.
type Step struct {
	Name     string `json:"step"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// ProgressUpdate is the payload of every message a flow emits.
type ProgressUpdate struct {
	FlowID   string `json:"flowId"`
	Step     string `json:"step"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Complete bool   `json:"complete"`
}

// FlowFailure is the payload emitted when a flow times out.
type FlowFailure struct {
	FlowID string `json:"flowId"`
	Error  string `json:"error"`
}

// Flow describes a bounded sequence of progress messages sent to a room.
type Flow struct {
	ID     string
	Room   string
	Origin ConnectionID

	// Type tags every progress message; ErrorType, if set, tags the single
	// message sent when the flow times out.
	Type      protocol.Type
	ErrorType protocol.Type

	Steps    []Step
	Interval time.Duration
	// Timeout overrides the runner's default per-flow timeout.
	Timeout time.Duration
}

type runningFlow struct {
	flow   Flow
	cancel context.CancelFunc
}

// FlowRunner runs progress flows as background goroutines. A flow outlives
// the connection that started it unless nobody is left to receive it.
type FlowRunner struct {
	engine  Broadcaster
	timeout time.Duration
	logger  zerolog.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	flows  map[string]*runningFlow
	closed bool
}

// NewFlowRunner creates a runner. timeout bounds every flow that does not
// set its own; zero means unbounded.
func NewFlowRunner(engine Broadcaster, timeout time.Duration, logger zerolog.Logger) *FlowRunner {
	ctx, cancel := context.WithCancel(context.Background())
	return &FlowRunner{
		engine:  engine,
		timeout: timeout,
		logger:  logger,
		base:    ctx,
		cancel:  cancel,
		flows:   make(map[string]*runningFlow),
	}
}

// Start launches f and returns its id. After Shutdown it returns "".
func (r *FlowRunner) Start(f Flow) string {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Warn().Str("flow_id", f.ID).Msg("flow rejected, runner shut down")
		return ""
	}
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(r.base, timeout)
	} else {
		ctx, cancel = context.WithCancel(r.base)
	}
	r.flows[f.ID] = &runningFlow{flow: f, cancel: cancel}
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger.Info().
		Str("flow_id", f.ID).
		Str("room", f.Room).
		Str("origin", string(f.Origin)).
		Int("steps", len(f.Steps)).
		Msg("flow started")

	go r.run(ctx, cancel, f)
	return f.ID
}

func (r *FlowRunner) run(ctx context.Context, cancel context.CancelFunc, f Flow) {
	defer r.wg.Done()
	defer cancel()
	defer r.forget(f.ID)

	var tick <-chan time.Time
	if f.Interval > 0 {
		ticker := time.NewTicker(f.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for i, step := range f.Steps {
		if tick != nil {
			select {
			case <-ctx.Done():
				r.abort(f, ctx.Err())
				return
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			r.abort(f, err)
			return
		}

		r.engine.BroadcastToRoom(f.Room, protocol.Message{
			Type: f.Type,
			Payload: ProgressUpdate{
				FlowID:   f.ID,
				Step:     step.Name,
				Progress: step.Progress,
				Message:  step.Message,
				Complete: i == len(f.Steps)-1,
			},
			Origin: string(f.Origin),
		}, "")
	}

	r.logger.Info().Str("flow_id", f.ID).Str("room", f.Room).Msg("flow completed")
}

func (r *FlowRunner) abort(f Flow, cause error) {
	if errors.Is(cause, context.DeadlineExceeded) {
		r.logger.Warn().Str("flow_id", f.ID).Str("room", f.Room).Msg("flow timed out")
		if f.ErrorType != "" {
			r.engine.BroadcastToRoom(f.Room, protocol.Message{
				Type:    f.ErrorType,
				Payload: FlowFailure{FlowID: f.ID, Error: "timed out"},
				Origin:  string(f.Origin),
			}, "")
		}
		return
	}
	r.logger.Info().Str("flow_id", f.ID).Str("room", f.Room).Msg("flow cancelled")
}

func (r *FlowRunner) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flows, id)
}

// Cancel stops the flow with the given id. It reports whether it was running.
func (r *FlowRunner) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rf, ok := r.flows[id]
	if !ok {
		return false
	}
	rf.cancel()
	return true
}

// ConnectionClosed cancels the flows originated by id whose room no longer
// has any members. Flows serving an occupied room keep running. It returns
// the number of flows cancelled.
func (r *FlowRunner) ConnectionClosed(id ConnectionID, roomEmpty func(room string) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, rf := range r.flows {
		if rf.flow.Origin != id || !roomEmpty(rf.flow.Room) {
			continue
		}
		rf.cancel()
		n++
	}
	return n
}

// Active returns the number of running flows.
func (r *FlowRunner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

// Shutdown cancels every flow and waits for them to exit or ctx to end.
func (r *FlowRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
