package capture

import (
	"sync"
	"time"

	"github.com/petems/audiotap/internal/metrics"
)

// DecibelEvent is one loudness reading, derived from exactly the samples
// emitted as audio for the same chunk.
type DecibelEvent struct {
	Decibel          float64
	TimestampSeconds float64
}

// StatusEvent reports whether a capture session is running.
type StatusEvent struct {
	IsActive         bool
	TimestampSeconds float64
	DeviceName       string
}

// AudioHandler receives one mono 16-bit little-endian PCM chunk. The slice
// is owned by the handler.
type AudioHandler func(chunk []byte)

// DecibelHandler receives one loudness reading per chunk.
type DecibelHandler func(ev DecibelEvent)

// StatusHandler receives session state changes, plus the current state
// immediately on subscribe.
type StatusHandler func(ev StatusEvent)

type eventKind int

const (
	eventAudio eventKind = iota
	eventDecibel
	eventStatus
)

type event struct {
	kind    eventKind
	audio   []byte
	decibel DecibelEvent
	status  StatusEvent
}

// Dispatcher hands events from the capture goroutine to whatever consumer
// is currently subscribed, without ever blocking the capture side. Delivery
// happens on a single pump goroutine owned by the dispatcher; a full queue
// drops the event rather than stalling the hardware drain.
type Dispatcher struct {
	mu      sync.Mutex
	audio   AudioHandler
	decibel DecibelHandler
	status  StatusHandler

	lastStatus StatusEvent
	hasStatus  bool

	queue chan event
	done  chan struct{}
	met   *metrics.Metrics
	once  sync.Once
}

const dispatchQueueSize = 64

// NewDispatcher creates a dispatcher and starts its pump goroutine.
func NewDispatcher(met *metrics.Metrics) *Dispatcher {
	d := &Dispatcher{
		queue: make(chan event, dispatchQueueSize),
		done:  make(chan struct{}),
		met:   met,
	}
	go d.pump()
	return d
}

func (d *Dispatcher) pump() {
	for {
		select {
		case <-d.done:
			return
		case ev := <-d.queue:
			d.deliver(ev)
		}
	}
}

func (d *Dispatcher) deliver(ev event) {
	d.mu.Lock()
	audio, decibel, status := d.audio, d.decibel, d.status
	d.mu.Unlock()

	switch ev.kind {
	case eventAudio:
		if audio != nil {
			audio(ev.audio)
		}
	case eventDecibel:
		if decibel != nil {
			decibel(ev.decibel)
		}
	case eventStatus:
		if status != nil {
			status(ev.status)
		}
	}
}

func (d *Dispatcher) enqueue(ev event) {
	select {
	case d.queue <- ev:
	default:
		d.met.RecordDroppedEvent()
	}
}

// EmitAudio hands one finished chunk to the audio subscriber. The pipeline
// always runs; with no subscriber the delivery is skipped at the pump.
func (d *Dispatcher) EmitAudio(chunk []byte) {
	d.mu.Lock()
	subscribed := d.audio != nil
	d.mu.Unlock()
	if !subscribed {
		return
	}
	d.enqueue(event{kind: eventAudio, audio: chunk})
}

// EmitDecibel hands one loudness reading to the decibel subscriber.
func (d *Dispatcher) EmitDecibel(ev DecibelEvent) {
	d.enqueue(event{kind: eventDecibel, decibel: ev})
}

// EmitStatus records the new state and hands it to the status subscriber.
func (d *Dispatcher) EmitStatus(ev StatusEvent) {
	d.mu.Lock()
	d.lastStatus = ev
	d.hasStatus = true
	d.mu.Unlock()
	d.enqueue(event{kind: eventStatus, status: ev})
}

// SubscribeAudio attaches the audio consumer. Only subsequent chunks are
// delivered; there is no backlog.
func (d *Dispatcher) SubscribeAudio(h AudioHandler) {
	d.mu.Lock()
	d.audio = h
	d.mu.Unlock()
}

// UnsubscribeAudio detaches the audio consumer.
func (d *Dispatcher) UnsubscribeAudio() {
	d.mu.Lock()
	d.audio = nil
	d.mu.Unlock()
}

// SubscribeDecibel attaches the loudness consumer.
func (d *Dispatcher) SubscribeDecibel(h DecibelHandler) {
	d.mu.Lock()
	d.decibel = h
	d.mu.Unlock()
}

// UnsubscribeDecibel detaches the loudness consumer.
func (d *Dispatcher) UnsubscribeDecibel() {
	d.mu.Lock()
	d.decibel = nil
	d.mu.Unlock()
}

// SubscribeStatus attaches the status consumer and immediately replays the
// current state so a late subscriber is never left without an initial
// value.
func (d *Dispatcher) SubscribeStatus(h StatusHandler) {
	d.mu.Lock()
	d.status = h
	last, has := d.lastStatus, d.hasStatus
	d.mu.Unlock()
	if has {
		d.enqueue(event{kind: eventStatus, status: last})
	}
}

// UnsubscribeStatus detaches the status consumer.
func (d *Dispatcher) UnsubscribeStatus() {
	d.mu.Lock()
	d.status = nil
	d.mu.Unlock()
}

// Close stops the pump. Queued events are discarded.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.done) })
}

func nowSeconds() float64 {
	return float64(time.Now().UnixMilli()) / 1000.0
}
