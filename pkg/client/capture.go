package client

import (
	"context"
	"sync"

	"github.com/arlomercer/sanctum/internal/audio"
)

type CaptureState string

const (
	CaptureIdle       CaptureState = "idle"
	CapturePermission CaptureState = "requesting_permission"
	CaptureActive     CaptureState = "capturing"
	CaptureError      CaptureState = "error"
)

// Source produces float32 sample blocks from an audio device. Start may
// block while acquiring device permission; Stop must release the device
// and close the sample channel.
type Source interface {
	Start(ctx context.Context) (<-chan []float32, error)
	Stop()
}

// Capture converts microphone sample blocks to base64 PCM16 chunks.
// Chunks are emitted only while the state is exactly capturing; a block
// arriving after a stop is silently dropped.
type Capture struct {
	mu     sync.Mutex
	state  CaptureState
	source Source
	cancel context.CancelFunc

	OnChunk func(audioB64 string)
	OnState func(CaptureState)
}

func NewCapture(source Source) *Capture {
	return &Capture{state: CaptureIdle, source: source}
}

func (c *Capture) State() CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start requests device access and begins emitting chunks.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == CaptureActive || c.state == CapturePermission {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(CapturePermission)
	captureCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	blocks, err := c.source.Start(captureCtx)
	if err != nil {
		c.mu.Lock()
		c.cancel = nil
		c.setStateLocked(CaptureError)
		c.mu.Unlock()
		cancel()
		return err
	}

	c.mu.Lock()
	c.setStateLocked(CaptureActive)
	c.mu.Unlock()

	go c.pump(blocks)
	return nil
}

func (c *Capture) pump(blocks <-chan []float32) {
	for samples := range blocks {
		c.mu.Lock()
		active := c.state == CaptureActive
		emit := c.OnChunk
		c.mu.Unlock()
		if !active || emit == nil || len(samples) == 0 {
			continue
		}
		emit(audio.EncodeBase64(audio.Float32ToPCM16LE(samples)))
	}
}

// Stop releases the device and returns to idle. Idempotent; also clears
// a previous error state so capture can be retried.
func (c *Capture) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	wasRunning := c.state == CaptureActive || c.state == CapturePermission
	c.setStateLocked(CaptureIdle)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasRunning {
		c.source.Stop()
	}
}

func (c *Capture) setStateLocked(s CaptureState) {
	if c.state == s {
		return
	}
	c.state = s
	if c.OnState != nil {
		go c.OnState(s)
	}
}
