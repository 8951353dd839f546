// Package device owns the physical or simulated plate connection and turns
// it into a continuous, timestamped stream of raw per-plate force samples.
//
// The protocol is device-agnostic: connect by identifier, negotiate a rate,
// stream until disconnect or drop. A drop mid-stream surfaces as an explicit
// terminal error on the handle, never as silent truncation.
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/jumplab/internal/domain/model"
)

// Default simulated device constants.
const (
	defaultRateHz    = 1000
	defaultDeviceID  = "sim-0"
	streamBufferSize = 256
)

// Device is the abstract plate link.
type Device interface {
	// Connect opens the link to a plate by identifier.
	Connect(ctx context.Context, deviceID string) (*Handle, error)

	// Stream starts sample production for a connected handle. The stream is
	// lazy and not restartable; after the channel closes, Handle.Err reports
	// why production stopped.
	Stream(ctx context.Context, h *Handle) (<-chan model.ForceSample, error)

	// Disconnect tears the link down. The stream channel closes with
	// ErrLinkDropped if it was still producing.
	Disconnect(h *Handle) error
}

// Handle represents one open connection. The negotiated rate is fixed for
// the life of the handle.
type Handle struct {
	deviceID string
	rateHz   int

	mu        sync.Mutex
	streaming bool
	err       error
	stop      chan struct{}
	stopped   bool
}

// DeviceID returns the identifier the handle was opened with.
func (h *Handle) DeviceID() string { return h.deviceID }

// RateHz returns the negotiated sample rate.
func (h *Handle) RateHz() int { return h.rateHz }

// Err returns the terminal stream error once the sample channel has closed:
// ErrStreamEnded for an exhausted trace, ErrLinkDropped for a drop or
// disconnect, nil while the stream is still live.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) setErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err == nil {
		h.err = err
	}
}

// Option applies a configuration option to the Simulated device.
type Option func(*Simulated)

// WithRate sets the negotiated sample rate in Hz.
func WithRate(hz int) Option {
	return func(d *Simulated) {
		if hz > 0 {
			d.rateHz = hz
		}
	}
}

// WithTrace sets the sample sequence the device will produce.
func WithTrace(samples []model.ForceSample) Option {
	return func(d *Simulated) {
		d.trace = samples
	}
}

// WithRealtime paces production at the negotiated rate. Off by default so
// replays run as fast as the consumer drains them.
func WithRealtime(enabled bool) Option {
	return func(d *Simulated) {
		d.realtime = enabled
	}
}

// WithDropAfter simulates a link drop after n produced samples.
func WithDropAfter(n int) Option {
	return func(d *Simulated) {
		if n > 0 {
			d.dropAfter = n
		}
	}
}

// WithKnownDevices sets the identifiers Connect will accept.
func WithKnownDevices(ids ...string) Option {
	return func(d *Simulated) {
		d.known = make(map[string]bool, len(ids))
		for _, id := range ids {
			d.known[id] = true
		}
	}
}

// WithConnectDelay simulates connection latency, allowing timeout tests.
func WithConnectDelay(delay time.Duration) Option {
	return func(d *Simulated) {
		d.connectDelay = delay
	}
}

// Simulated implements Device by replaying a synthetic trace. It backs both
// development without hardware and the deterministic pipeline tests.
type Simulated struct {
	rateHz       int
	trace        []model.ForceSample
	realtime     bool
	dropAfter    int
	known        map[string]bool
	connectDelay time.Duration

	mu        sync.Mutex
	connected map[string]*Handle
}

// NewSimulated creates a simulated device with configuration options.
func NewSimulated(opts ...Option) *Simulated {
	d := &Simulated{
		rateHz:    defaultRateHz,
		known:     map[string]bool{defaultDeviceID: true},
		connected: make(map[string]*Handle),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Connect opens a handle for a known device identifier.
func (d *Simulated) Connect(ctx context.Context, deviceID string) (*Handle, error) {
	if d.connectDelay > 0 {
		select {
		case <-time.After(d.connectDelay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrConnectTimeout, deviceID)
		}
	}

	if !d.known[deviceID] {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.connected[deviceID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyConnected, deviceID)
	}

	h := &Handle{
		deviceID: deviceID,
		rateHz:   d.rateHz,
		stop:     make(chan struct{}),
	}
	d.connected[deviceID] = h
	return h, nil
}

// Stream starts trace replay for the handle.
func (d *Simulated) Stream(ctx context.Context, h *Handle) (<-chan model.ForceSample, error) {
	h.mu.Lock()
	if h.streaming {
		h.mu.Unlock()
		return nil, ErrStreamConsumed
	}
	h.streaming = true
	h.mu.Unlock()

	out := make(chan model.ForceSample, streamBufferSize)

	go func() {
		defer close(out)

		var tick *time.Ticker
		if d.realtime {
			tick = time.NewTicker(time.Second / time.Duration(h.rateHz))
			defer tick.Stop()
		}

		for i, s := range d.trace {
			if d.dropAfter > 0 && i >= d.dropAfter {
				h.setErr(ErrLinkDropped)
				return
			}
			if tick != nil {
				select {
				case <-tick.C:
				case <-ctx.Done():
					h.setErr(ErrLinkDropped)
					return
				case <-h.stop:
					h.setErr(ErrLinkDropped)
					return
				}
			}
			select {
			case out <- s:
			case <-ctx.Done():
				h.setErr(ErrLinkDropped)
				return
			case <-h.stop:
				h.setErr(ErrLinkDropped)
				return
			}
		}
		h.setErr(ErrStreamEnded)
	}()

	return out, nil
}

// Disconnect closes the handle and frees the device identifier.
func (d *Simulated) Disconnect(h *Handle) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	if !h.stopped {
		h.stopped = true
		close(h.stop)
	}
	h.mu.Unlock()

	d.mu.Lock()
	delete(d.connected, h.deviceID)
	d.mu.Unlock()
	return nil
}
