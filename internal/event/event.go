// Package event implements Component I: a FIFO event queue that fires only
// after the enclosing store transaction commits (§4.I, §5). The teacher
// emits UI events directly from its Wails runtime bridge
// (wailsRuntime.EventsEmit); this generalizes that call site to a plain Go
// callback so the pipeline has no UI-toolkit dependency.
package event

import "sync"

// Kind enumerates the event ids named in §6.
type Kind int

const (
	MsgsChanged Kind = iota
	IncomingMsg
	MsgRead
	ChatModified
	WakeLock
)

func (k Kind) String() string {
	switch k {
	case MsgsChanged:
		return "MSGS_CHANGED"
	case IncomingMsg:
		return "INCOMING_MSG"
	case MsgRead:
		return "MSG_READ"
	case ChatModified:
		return "CHAT_MODIFIED"
	case WakeLock:
		return "WAKE_LOCK"
	default:
		return "UNKNOWN"
	}
}

// Event is one fired notification. For WakeLock, ChatID is 1 for "on" and
// 0 for "off" and MsgID is unused (§6).
type Event struct {
	Kind   Kind
	ChatID uint32
	MsgID  uint32
}

// Callback receives events in FIFO commit order. Return values are not
// collected; callbacks observe WakeLock events instead (§4.I).
type Callback func(Event)

// Dispatcher queues events during a transaction and fires them only once
// Flush is called after a successful commit. Discard drops queued events
// on rollback, so a rolled-back transaction never fires anything (§4.I).
type Dispatcher struct {
	cb Callback

	mu      sync.Mutex
	pending []Event

	wakeMu    sync.Mutex
	wakeCount int
}

// NewDispatcher wraps cb. A nil cb is valid and simply drops events.
func NewDispatcher(cb Callback) *Dispatcher {
	if cb == nil {
		cb = func(Event) {}
	}
	return &Dispatcher{cb: cb}
}

// Enqueue queues e for delivery on the next Flush.
func (d *Dispatcher) Enqueue(e Event) {
	d.mu.Lock()
	d.pending = append(d.pending, e)
	d.mu.Unlock()
}

// Flush fires every queued event, in enqueue order, then clears the queue.
// Call this after the transaction that produced the events commits. The
// callback runs with no lock held, so it may safely re-enter the store
// (§5: "Events fire with store.lock NOT held").
func (d *Dispatcher) Flush() {
	d.mu.Lock()
	events := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, e := range events {
		d.cb(e)
	}
}

// Discard drops queued events without firing them. Call this after a
// transaction rollback.
func (d *Dispatcher) Discard() {
	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()
}

// AcquireWakeLock increments the wake-lock counter, firing WakeLock(on) on
// the 0→1 transition (§5).
func (d *Dispatcher) AcquireWakeLock() {
	d.wakeMu.Lock()
	d.wakeCount++
	fire := d.wakeCount == 1
	d.wakeMu.Unlock()
	if fire {
		d.cb(Event{Kind: WakeLock, ChatID: 1})
	}
}

// ReleaseWakeLock decrements the wake-lock counter, firing WakeLock(off) on
// the 1→0 transition. Releasing below zero is a no-op.
func (d *Dispatcher) ReleaseWakeLock() {
	d.wakeMu.Lock()
	if d.wakeCount == 0 {
		d.wakeMu.Unlock()
		return
	}
	d.wakeCount--
	fire := d.wakeCount == 0
	d.wakeMu.Unlock()
	if fire {
		d.cb(Event{Kind: WakeLock, ChatID: 0})
	}
}
