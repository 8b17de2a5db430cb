// Package pipeline drives every inbound message through routing,
// transformation, and the security envelope on a single consumer
// goroutine reading a bounded command channel, so that message order is
// never reshuffled by concurrent processing.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/halyardsys/protogate/internal/gwerrors"
	"github.com/halyardsys/protogate/internal/message"
	"github.com/halyardsys/protogate/internal/protocol"
	"github.com/halyardsys/protogate/internal/router"
	"github.com/halyardsys/protogate/internal/security"
	"github.com/halyardsys/protogate/internal/transformer"
)

// State is the pipeline's lifecycle state machine. Transitions only ever
// move forward: Initialized -> Running -> ShuttingDown -> Stopped.
type State int32

const (
	Initialized State = iota
	Running
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Result is what ProcessMessage delivers for one submitted message: the
// destination protocol the message was translated toward and its
// envelope-secured payload, ready for the matching codec to serialize.
type Result struct {
	Target  protocol.Type
	Secured *security.Secured
}

// processCmd and shutdownCmd are the two command-channel variants a
// single consumer goroutine drains strictly in FIFO order.
type processCmd struct {
	msg      message.Common
	resultCh chan<- procOutcome
}

type procOutcome struct {
	result Result
	err    error
}

type shutdownCmd struct {
	doneCh chan<- struct{}
}

type command struct {
	process  *processCmd
	shutdown *shutdownCmd
}

// RotationFunc performs one round of scheduled key rotation. It is
// called periodically by the pipeline's internal ticker when configured
// with a non-zero rotation interval.
type RotationFunc func() error

// Config bundles the dependencies and tuning knobs a Pipeline needs at
// construction time.
type Config struct {
	Router         *router.Router
	Transformer    *transformer.Registry
	Security       *security.Service
	DefaultKeyID   string
	QueueSize      int
	RotationPeriod time.Duration // zero disables the scheduler
	Rotate         RotationFunc
}

// Stats is a point-in-time snapshot of pipeline throughput counters.
type Stats struct {
	Processed uint64
	Errors    uint64
	Rotations uint64
}

// Pipeline is the single-consumer command processor. All exported
// methods are safe for concurrent use by multiple producer goroutines;
// only the internal run loop ever touches router/transformer/security
// state for an individual message.
type Pipeline struct {
	cfg   Config
	state atomic.Int32
	cmdCh chan command
	wg    sync.WaitGroup

	processed atomic.Uint64
	errors    atomic.Uint64
	rotations atomic.Uint64

	rotateStop chan struct{}
}

// New constructs a Pipeline in the Initialized state. Call Start to
// begin consuming commands.
func New(cfg Config) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	p := &Pipeline{cfg: cfg, cmdCh: make(chan command, cfg.QueueSize)}
	p.state.Store(int32(Initialized))
	return p
}

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Start transitions Initialized -> Running and spawns the consumer
// goroutine and, if configured, the rotation scheduler. Calling Start
// more than once is an error.
func (p *Pipeline) Start() error {
	if !p.state.CompareAndSwap(int32(Initialized), int32(Running)) {
		return fmt.Errorf("%w: pipeline already started", gwerrors.ErrNotRunning)
	}
	p.wg.Add(1)
	go p.run()

	if p.cfg.RotationPeriod > 0 && p.cfg.Rotate != nil {
		p.rotateStop = make(chan struct{})
		p.wg.Add(1)
		go p.runRotation()
	}
	return nil
}

// run is the sole consumer of cmdCh: it drains commands strictly in the
// order they were sent, guaranteeing FIFO processing of every message.
func (p *Pipeline) run() {
	defer p.wg.Done()
	for cmd := range p.cmdCh {
		switch {
		case cmd.process != nil:
			result, err := p.process(cmd.process.msg)
			cmd.process.resultCh <- procOutcome{result: result, err: err}
		case cmd.shutdown != nil:
			close(cmd.shutdown.doneCh)
			return
		}
	}
}

// runRotation grounds the scheduler on a plain ticker: on each tick it
// invokes the configured Rotate callback, counting every call regardless
// of error so Stats reflects attempted, not just successful, rotations.
func (p *Pipeline) runRotation() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.RotationPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.rotations.Add(1)
			_ = p.cfg.Rotate()
		case <-p.rotateStop:
			return
		}
	}
}

// process runs one message through route -> transform -> secure. It
// only ever executes on the single consumer goroutine.
func (p *Pipeline) process(msg message.Common) (Result, error) {
	rule, err := p.cfg.Router.FindRule(msg)
	if err != nil {
		p.errors.Add(1)
		return Result{}, err
	}

	transformed, err := p.cfg.Transformer.Transform(msg, *rule)
	if err != nil {
		p.errors.Add(1)
		return Result{}, err
	}

	mode := rule.SecurityMode
	sec, err := p.cfg.Security.Secure(transformed.Payload, mode, p.cfg.DefaultKeyID)
	if err != nil {
		p.errors.Add(1)
		return Result{}, err
	}

	p.processed.Add(1)
	return Result{Target: *transformed.TargetProtocol, Secured: sec}, nil
}

// ProcessMessage submits msg to the command channel and blocks until the
// consumer goroutine has processed it or ctx is done. It returns
// ErrNotRunning if the pipeline isn't in the Running state.
func (p *Pipeline) ProcessMessage(ctx context.Context, msg message.Common) (Result, error) {
	if p.State() != Running {
		return Result{}, gwerrors.ErrNotRunning
	}

	resultCh := make(chan procOutcome, 1)
	select {
	case p.cmdCh <- command{process: &processCmd{msg: msg, resultCh: resultCh}}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case out := <-resultCh:
		return out.result, out.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Shutdown transitions Running -> ShuttingDown, drains any commands
// already queued ahead of the shutdown marker, stops the rotation
// scheduler if any, and waits for the consumer goroutine to exit before
// moving to Stopped.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(Running), int32(ShuttingDown)) {
		return fmt.Errorf("%w: pipeline not running", gwerrors.ErrNotRunning)
	}

	if p.rotateStop != nil {
		close(p.rotateStop)
	}

	doneCh := make(chan struct{})
	select {
	case p.cmdCh <- command{shutdown: &shutdownCmd{doneCh: doneCh}}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	close(p.cmdCh)
	p.wg.Wait()
	p.state.Store(int32(Stopped))
	return nil
}

// Stats returns a point-in-time snapshot of the pipeline's throughput
// counters. Safe to call from any goroutine at any lifecycle state.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Errors:    p.errors.Load(),
		Rotations: p.rotations.Load(),
	}
}
