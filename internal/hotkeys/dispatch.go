package hotkeys

import "log/slog"

// FiredEvent describes one hotkey press.
type FiredEvent struct {
	ID      int
	Display string
	Screen  int
	X       int
	Y       int
}

// EventSink receives fired hotkeys. It is called from the event loop
// goroutine, never while the manager lock is held.
type EventSink interface {
	HotkeyFired(FiredEvent)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(FiredEvent)

func (f SinkFunc) HotkeyFired(ev FiredEvent) {
	f(ev)
}

// dispatcher queues the events of one loop iteration and delivers them in
// capture order.
type dispatcher struct {
	sink   EventSink
	logger *slog.Logger
	queue  []FiredEvent
}

func newDispatcher(sink EventSink, logger *slog.Logger) *dispatcher {
	if f, ok := sink.(SinkFunc); ok && f == nil {
		sink = nil
	}
	return &dispatcher{sink: sink, logger: logger}
}

func (d *dispatcher) enqueue(ev FiredEvent) {
	d.queue = append(d.queue, ev)
}

func (d *dispatcher) flush() {
	if len(d.queue) == 0 {
		return
	}
	d.logger.Debug("sending callbacks", "count", len(d.queue))
	for _, ev := range d.queue {
		d.deliver(ev)
	}
	d.queue = d.queue[:0]
	d.logger.Debug("callbacks complete")
}

func (d *dispatcher) deliver(ev FiredEvent) {
	if d.sink == nil {
		d.logger.Error("no event sink, dropping hotkey event",
			"id", ev.ID, "display", ev.Display)
		return
	}
	d.sink.HotkeyFired(ev)
}
