// Package orchestrator implements the top-level Starting/Working/
// WorkingWithFork state machine (C8) driving the event processor and the
// request registry across startup warm-up, steady state, and the synthetic
// forks caused by upstream timeouts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/wavesplatform/ride-evaluator/internal/chain"
	"github.com/wavesplatform/ride-evaluator/internal/events"
)

// ErrUpstreamTimeout distinguishes a timed-out upstream connection from any
// other transport failure. While Working, every Failed(error), timeout or
// not, drives the synthetic-fork transition; other failures are only logged
// as such first.
var ErrUpstreamTimeout = errors.New("orchestrator: upstream timeout")

// UpdatesStream is the opaque blockchain-updates transport (spec.md §6):
// Recv yields the next Append/Rollback/Empty event. A nil error means Next;
// io.EOF means Closed; any other error means Failed, with ErrUpstreamTimeout
// flagging the distinguished timeout case.
type UpdatesStream interface {
	Recv(ctx context.Context) (events.BlockchainUpdated, error)
}

// Scheduler is what the orchestrator needs from the request registry.
type Scheduler interface {
	RunScripts(ctx context.Context, forceAll bool, affected map[chain.Tag]struct{}) error
}

// State is the orchestrator's own closed tagged union.
type State uint8

const (
	StateStarting State = iota
	StateWorking
	StateWorkingWithFork
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateWorking:
		return "working"
	case StateWorkingWithFork:
		return "working_with_fork"
	default:
		return "unknown"
	}
}

// Orchestrator is the C8 state machine.
type Orchestrator struct {
	processor *events.Processor
	scheduler Scheduler
	stream    UpdatesStream

	state         State
	workingHeight chain.Height
	forkOrigin    chain.Height

	stateGauge metrics.Gauge
}

// New builds an Orchestrator starting in Starting(workingHeight).
// workingHeight is fixed at startup as "last known height + N" by the
// caller; the orchestrator itself treats it as opaque.
func New(processor *events.Processor, scheduler Scheduler, stream UpdatesStream, workingHeight chain.Height) *Orchestrator {
	return &Orchestrator{
		processor:     processor,
		scheduler:     scheduler,
		stream:        stream,
		state:         StateStarting,
		workingHeight: workingHeight,
		stateGauge:    metrics.NewRegisteredGauge("orchestrator/state", nil),
	}
}

// State reports the orchestrator's current state, for the status endpoint.
func (o *Orchestrator) State() State { return o.state }

// Run drives the state machine until the stream closes, ctx is cancelled, or
// a fatal condition (invariant breach, Starting-state Failed, or a Failed
// while already WorkingWithFork) is reached.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		event, err := o.stream.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("Updates stream closed", "state", o.state)
				return nil
			}
			if handleErr := o.handleFailed(ctx, err); handleErr != nil {
				return handleErr
			}
			continue
		}

		if err := o.processor.Process(event); err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}

		if err := o.handleApplied(ctx, event.Height); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) handleFailed(ctx context.Context, cause error) error {
	switch o.state {
	case StateStarting:
		return fmt.Errorf("orchestrator: fatal stream failure during startup: %w", cause)
	case StateWorking:
		if !errors.Is(cause, ErrUpstreamTimeout) {
			// Spec.md §4.7's table treats any stream Failed while Working the
			// same as a timeout: trigger the synthetic fork rather than abort,
			// since only a timeout is distinguished as recoverable elsewhere
			// in spec.md §7 — other transport errors still surface via Recv's
			// next call if the underlying transport retries.
			log.Warn("Upstream stream failed while working; forcing synthetic fork", "err", cause)
		}
		affected, err := o.processor.ForceRollbackOne()
		if err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}
		o.forkOrigin = o.processor.Accumulated().NewHeight
		o.setState(StateWorkingWithFork)
		log.Info("Entered WorkingWithFork", "forkOrigin", o.forkOrigin, "affected", len(affected))
		return nil
	case StateWorkingWithFork:
		return fmt.Errorf("orchestrator: fatal stream failure while already working with fork: %w", cause)
	default:
		return fmt.Errorf("orchestrator: unknown state %d", o.state)
	}
}

func (o *Orchestrator) handleApplied(ctx context.Context, height chain.Height) error {
	switch o.state {
	case StateStarting:
		if height < o.workingHeight {
			return nil
		}
		if err := o.scheduler.RunScripts(ctx, true, nil); err != nil {
			return fmt.Errorf("orchestrator: warm-up runScripts: %w", err)
		}
		o.setState(StateWorking)
		log.Info("Startup warm-up complete", "height", height)
		return nil
	case StateWorking:
		affected := o.processor.TakeAffected()
		if err := o.scheduler.RunScripts(ctx, false, affected); err != nil {
			return fmt.Errorf("orchestrator: runScripts: %w", err)
		}
		return nil
	case StateWorkingWithFork:
		if height < o.forkOrigin {
			return nil
		}
		affected := o.processor.TakeAffected()
		if err := o.scheduler.RunScripts(ctx, false, affected); err != nil {
			return fmt.Errorf("orchestrator: runScripts: %w", err)
		}
		o.setState(StateWorking)
		log.Info("Re-reached fork origin; returning to Working", "height", height)
		return nil
	default:
		return fmt.Errorf("orchestrator: unknown state %d", o.state)
	}
}

func (o *Orchestrator) setState(s State) {
	o.state = s
	o.stateGauge.Update(int64(s))
}
