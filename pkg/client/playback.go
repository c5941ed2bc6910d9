package client

import (
	"sync"
	"time"

	"github.com/arlomercer/sanctum/internal/audio"
)

// Sink plays one decoded buffer and invokes done when it finishes. done
// must be invoked from a different goroutine than the Play call. Stop
// aborts the in-flight buffer.
type Sink interface {
	Play(samples []float32, done func())
	Stop()
}

// Player keeps an ordered queue of decoded buffers and plays them
// back-to-back. A change in response item id interrupts whatever is
// still queued so a previous response's tail never plays over a new one.
type Player struct {
	mu          sync.Mutex
	sink        Sink
	queue       [][]float32
	playing     bool
	currentItem string
	generation  int

	playedSamples int
	queuedSamples int

	AutoPlay bool
}

func NewPlayer(sink Sink) *Player {
	return &Player{sink: sink, AutoPlay: true}
}

// QueueChunk decodes a base64 PCM16 chunk and appends it to the queue,
// starting playback if idle.
func (p *Player) QueueChunk(audioB64 string) error {
	raw, err := audio.DecodeBase64(audioB64)
	if err != nil {
		return err
	}
	samples := audio.PCM16LEToFloat32(raw)
	if len(samples) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, samples)
	p.queuedSamples += len(samples)
	if !p.playing && p.AutoPlay {
		p.startNextLocked()
	}
	return nil
}

// PlayDelta queues one streamed audio delta. When itemID differs from
// the item currently playing, pending playback is interrupted first.
func (p *Player) PlayDelta(itemID, audioB64 string) error {
	p.mu.Lock()
	if itemID != "" && itemID != p.currentItem {
		p.interruptLocked()
		p.currentItem = itemID
	}
	p.mu.Unlock()
	return p.QueueChunk(audioB64)
}

// Stop drops everything: the in-flight buffer and the queue.
func (p *Player) Stop() {
	p.mu.Lock()
	p.interruptLocked()
	p.currentItem = ""
	p.mu.Unlock()
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Player) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Progress reports played and total duration for display purposes.
func (p *Player) Progress() (played, total time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	played = sampleDuration(p.playedSamples)
	total = sampleDuration(p.queuedSamples)
	return played, total
}

func (p *Player) interruptLocked() {
	p.generation++
	if p.playing {
		p.sink.Stop()
		p.playing = false
	}
	p.queue = nil
	p.playedSamples = 0
	p.queuedSamples = 0
}

// startNextLocked dequeues and plays the head buffer. The completion
// callback chains directly into the next buffer so playback is gapless.
func (p *Player) startNextLocked() {
	if len(p.queue) == 0 {
		p.playing = false
		return
	}
	samples := p.queue[0]
	p.queue = p.queue[1:]
	p.playing = true
	gen := p.generation
	p.sink.Play(samples, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if gen != p.generation {
			// Interrupted while this buffer was in flight.
			return
		}
		p.playedSamples += len(samples)
		p.startNextLocked()
	})
}

func sampleDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(audio.DefaultSampleRate)
}

// TimedSink simulates playback by waiting out each buffer's real
// duration. Useful for the CLI, where chunks are written to disk rather
// than a device but pacing should still match real time.
type TimedSink struct {
	mu    sync.Mutex
	timer *time.Timer

	// OnBuffer, when set, receives each buffer as it starts playing.
	OnBuffer func(samples []float32)
}

func (s *TimedSink) Play(samples []float32, done func()) {
	if s.OnBuffer != nil {
		s.OnBuffer(samples)
	}
	d := sampleDuration(len(samples))
	s.mu.Lock()
	s.timer = time.AfterFunc(d, done)
	s.mu.Unlock()
}

func (s *TimedSink) Stop() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
}
