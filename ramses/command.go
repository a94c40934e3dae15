package ramses

import (
	"container/heap"
	"time"
)

// Priority orders outbound Commands into four strict bands; the engine
// never preempts an in-flight command for a higher-priority submission
// (§4.2), it only chooses the next one once the line is free.
type Priority int

const (
	PriorityASAP Priority = iota
	PriorityHigh
	PriorityDefault
	PriorityLow
)

// Callback is invoked once a Command's reply arrives (msg non-nil) or its
// QoS budget is exhausted (msg nil, the "falsy sentinel" of §4.2/§7). The
// Engine offers a callback only the reply that completes its own command.
// Daemon only keeps that reply from marking the callback as invoked; a
// Daemon callback is still called with nil when its command expires, and
// the Engine neither reads Expiry nor offers it any later reply.
type Callback struct {
	Fn      func(msg *Message)
	Expiry  time.Time
	Daemon  bool
	invoked bool
}

// Command is an outbound packet plus its QoS envelope.
type Command struct {
	Verb       Verb
	Addr       [3]Address
	Code       string
	PayloadHex string

	Priority   Priority
	RetryLimit int // on-wire attempts <= RetryLimit+1 (invariant 4)
	AttemptTO  time.Duration

	Submitted time.Time
	Callback  *Callback

	seq     uint64 // submission order, for FIFO within a priority band
	attempt int
}

// Header is the correlation key this command's echo/reply will be
// matched against.
func (c Command) Header() Header {
	p := Packet{Verb: c.Verb, Addr: c.Addr, Code: c.Code, PayloadHx: c.PayloadHex}
	return HeaderOf(p)
}

// Line renders the command's on-wire ASCII form.
func (c Command) Line() string {
	return FormatOutbound(c.Verb, c.Addr, c.Code, c.PayloadHex)
}

// commandQueue is a container/heap-backed priority queue ordered
// (priority, submission instant), serviced strictly band-by-band, FIFO
// within a band. container/heap is the stdlib tool the whole pack reaches
// for when it needs ordered dispatch (no example repo imports a
// third-party priority-queue library); see DESIGN.md.
type commandQueue struct {
	items []*Command
}

func (q *commandQueue) Len() int { return len(q.items) }

func (q *commandQueue) Less(i, j int) bool {
	if q.items[i].Priority != q.items[j].Priority {
		return q.items[i].Priority < q.items[j].Priority
	}
	return q.items[i].seq < q.items[j].seq
}

func (q *commandQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *commandQueue) Push(x any) { q.items = append(q.items, x.(*Command)) }

func (q *commandQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	q.items = old[:n-1]
	return item
}

var _ heap.Interface = (*commandQueue)(nil)
