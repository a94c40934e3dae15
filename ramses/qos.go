package ramses

import (
	"container/heap"
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// qosState names the single in-flight command's position in the state
// machine of §4.2.
type qosState int

const (
	stateIdle qosState = iota
	stateAwaitingEcho
	stateAwaitingReply
)

// baseEchoTimeout and baseReplyTimeout mirror T_rq and T_rp from §4.2.
const (
	baseEchoTimeout  = 50 * time.Millisecond
	baseReplyTimeout = 150 * time.Millisecond
)

// Engine is the single-writer, single-reader QoS engine of §4.2: it owns
// the outbound priority queue and drives exactly one command at a time
// through Idle -> AwaitingEcho -> AwaitingReply -> Complete/Expired.
//
// Its correlation-map/channel dispatch pattern is grounded on the
// reference client's pendingJSON/pendingLegacy maps and Do()'s
// select-on-channel-or-ctx.Done idiom (lwl/client.go), generalised from a
// single request/reply round trip to the full echo-then-reply sequence
// RAMSES-II requires.
type Engine struct {
	mu    sync.Mutex
	queue commandQueue
	seq   uint64

	state   qosState
	current *Command
	attempt int

	wake chan struct{}
	out  io.Writer
	log  *slog.Logger

	metrics *Metrics // may be nil
}

// NewEngine wires an Engine to write outbound lines to out.
func NewEngine(out io.Writer, log *slog.Logger, metrics *Metrics) *Engine {
	return &Engine{out: out, log: log, wake: make(chan struct{}, 1), metrics: metrics}
}

// Submit enqueues a command for transmission. Commands of equal priority
// are serviced FIFO by submission time (§4.2); submission does not
// preempt an in-flight command.
func (e *Engine) Submit(cmd *Command) {
	e.mu.Lock()
	e.seq++
	cmd.seq = e.seq
	cmd.Submitted = time.Now()
	heap.Push(&e.queue, cmd)
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.commandsQueued.Inc()
	}
	e.nudge()
}

func (e *Engine) nudge() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run drives the engine until ctx is cancelled, per §5's cooperative
// single-threaded event-loop model: it suspends at the outbound-queue
// wait and at QoS backoff sleeps, and honours cancellation promptly.
func (e *Engine) Run(ctx context.Context) error {
	for {
		e.mu.Lock()
		if e.state == stateIdle && e.queue.Len() > 0 {
			cmd := heap.Pop(&e.queue).(*Command)
			e.current = cmd
			e.attempt = 1
			e.state = stateAwaitingEcho
			e.mu.Unlock()
			e.transmit(cmd)
			continue
		}
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.wake:
		case <-e.timeoutTimer():
			e.onTimeout()
		}
	}
}

// timeoutTimer returns a channel that fires when the current command's
// attempt times out, or a nil (never-firing) channel when idle.
func (e *Engine) timeoutTimer() <-chan time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	d := e.attemptTimeout()
	return time.After(d)
}

// attemptTimeout implements the backoff asymmetry of §4.2/§9: echo waits
// always use the fixed base timeout; only reply waits back off
// exponentially with attempt number.
func (e *Engine) attemptTimeout() time.Duration {
	to := e.current.AttemptTO
	if to <= 0 {
		to = baseEchoTimeout
	}
	if e.state == stateAwaitingReply {
		rp := e.current.AttemptTO
		if rp <= 0 {
			rp = baseReplyTimeout
		}
		return rp * time.Duration(1<<uint(e.attempt-1))
	}
	return to
}

func (e *Engine) transmit(cmd *Command) {
	line := cmd.Line() + "\r\n"
	if _, err := e.out.Write([]byte(line)); err != nil {
		e.log.Error("failed to write outbound command", "error", err)
	}
	if e.metrics != nil {
		e.metrics.commandsSent.Inc()
	}
}

func (e *Engine) onTimeout() {
	e.mu.Lock()
	cmd := e.current
	if cmd == nil {
		e.mu.Unlock()
		return
	}
	if e.attempt <= cmd.RetryLimit {
		e.attempt++
		e.state = stateAwaitingEcho
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.commandsRetried.Inc()
		}
		e.transmit(cmd)
		return
	}
	e.current = nil
	e.state = stateIdle
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.commandsExpired.Inc()
	}
	if cmd.Callback != nil && !cmd.Callback.invoked {
		cmd.Callback.invoked = true
		cmd.Callback.Fn(nil)
	}
	e.nudge()
}

// Dispatch offers an inbound message to the engine for header
// correlation, per §4.2/TESTABLE PROPERTY 5: a reply matches exactly one
// in-flight request. Returns true if msg matched and was consumed by the
// QoS state machine (callers still route it through the message router
// for entity reconstruction regardless).
func (e *Engine) Dispatch(msg *Message) bool {
	e.mu.Lock()
	cmd := e.current
	if cmd == nil {
		e.mu.Unlock()
		return false
	}
	reqHeader := cmd.Header()
	switch e.state {
	case stateAwaitingEcho:
		if msg.Header.String() != reqHeader.String() {
			e.mu.Unlock()
			return false
		}
		// e.attempt is not reset here: it tracks on-wire transmissions for
		// the whole command, echo and reply phases alike, matching
		// packet.py's _qos_tx_cnt (never reset at the echo/reply
		// boundary). Resetting it would both recompute the reply-wait
		// backoff from the wrong attempt number and let total
		// transmissions exceed RetryLimit+1.
		e.state = stateAwaitingReply
		e.mu.Unlock()
		e.nudge()
		return true
	case stateAwaitingReply:
		if msg.Header.String() != reqHeader.Reply().String() {
			e.mu.Unlock()
			return false
		}
		e.current = nil
		e.state = stateIdle
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.commandsCompleted.Inc()
		}
		if cmd.Callback != nil && !cmd.Callback.invoked {
			if !cmd.Callback.Daemon {
				cmd.Callback.invoked = true
			}
			cmd.Callback.Fn(msg)
		}
		e.nudge()
		return true
	default:
		e.mu.Unlock()
		return false
	}
}

// InFlight reports the header of the currently in-flight command, if any,
// for diagnostics.
func (e *Engine) InFlight() (Header, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return Header{}, false
	}
	return e.current.Header(), true
}

// QueueDepth reports the number of commands waiting behind the in-flight
// one, for metrics/debug surfaces.
func (e *Engine) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}
