package core

import "sync"

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// Resized/resolution changed from the OS.
	/* Context usage:
	 * u32 width = data.U32[0];
	 * u32 height = data.U32[1];
	 */
	EVENT_CODE_RESIZED SystemEventCode = 0x08

	// The renderer lost its device and is being rebuilt.
	EVENT_CODE_DEVICE_RESET SystemEventCode = 0x09

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

type EventContext struct {
	I64 [2]int64
	U32 [4]uint32
	F32 [4]float32
}

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, data EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventBus dispatches events synchronously on the firing goroutine.
type EventBus struct {
	mu         sync.RWMutex
	registered map[SystemEventCode][]registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{registered: make(map[SystemEventCode][]registeredEvent)}
}

// Register adds a listener for code. A listener can be registered once per code;
// duplicates return false.
func (b *EventBus) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.registered[code] {
		if e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	b.registered[code] = append(b.registered[code], registeredEvent{listener: listener, callback: onEvent})
	return true
}

func (b *EventBus) Unregister(code SystemEventCode, listener interface{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.registered[code]
	for i, e := range events {
		if e.listener == listener {
			b.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

// Fire stops at the first listener that reports the event handled.
func (b *EventBus) Fire(code SystemEventCode, sender interface{}, data EventContext) bool {
	b.mu.RLock()
	events := append([]registeredEvent(nil), b.registered[code]...)
	b.mu.RUnlock()
	for _, e := range events {
		if e.callback(code, sender, data) {
			return true
		}
	}
	return false
}

func (b *EventBus) Shutdown() {
	b.mu.Lock()
	b.registered = make(map[SystemEventCode][]registeredEvent)
	b.mu.Unlock()
}
