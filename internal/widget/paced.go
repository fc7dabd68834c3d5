package widget

import (
	"context"
	"sync"
	"time"
)

const (
	// frameBytes is 20ms of 48kHz mono s16le.
	frameBytes    = 1920
	frameInterval = 20 * time.Millisecond
	// tailFrames of silence keep the end of an utterance from clipping.
	tailFrames = 10
)

type pacedFrame struct {
	data []byte
	// done marks the end of an utterance; it is closed once every frame
	// queued before it has been sent.
	done chan struct{}
}

// PacedWriter slices 48kHz PCM into 20ms frames and sends them to the page
// in real time, so cancelling speech stops audio within a frame instead of
// after the whole buffer has been flushed to the client.
type PacedWriter struct {
	sendAudio  func([]byte) error
	sendSignal func(v any) error

	mu      sync.Mutex
	pcm     []byte
	frames  chan pacedFrame
	stopCh  chan struct{}
	stopped bool
}

func newPacedWriter(sendAudio func([]byte) error, sendSignal func(v any) error) *PacedWriter {
	return &PacedWriter{
		sendAudio:  sendAudio,
		sendSignal: sendSignal,
		frames:     make(chan pacedFrame, 512),
		stopCh:     make(chan struct{}),
	}
}

// WritePCM buffers pcm and queues every complete frame.
func (w *PacedWriter) WritePCM(pcm []byte) {
	if len(pcm) < 2 {
		return
	}
	w.mu.Lock()
	w.pcm = append(w.pcm, pcm...)
	var ready [][]byte
	for len(w.pcm) >= frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, w.pcm[:frameBytes])
		ready = append(ready, frame)
		w.pcm = w.pcm[frameBytes:]
	}
	w.mu.Unlock()
	for _, f := range ready {
		w.push(pacedFrame{data: f})
	}
}

// FlushTail pads the last partial frame, appends a short silence tail and
// waits until everything queued so far has been sent.
func (w *PacedWriter) FlushTail(ctx context.Context) error {
	w.mu.Lock()
	var last []byte
	if len(w.pcm) > 0 {
		last = make([]byte, frameBytes)
		copy(last, w.pcm)
		w.pcm = w.pcm[:0]
	}
	w.mu.Unlock()
	if last != nil {
		w.push(pacedFrame{data: last})
	}
	for i := 0; i < tailFrames; i++ {
		w.push(pacedFrame{data: make([]byte, frameBytes)})
	}
	done := make(chan struct{})
	w.push(pacedFrame{done: done})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopCh:
		return errSocketClosed
	}
}

// Reset drops queued audio and tells the page to stop playback.
func (w *PacedWriter) Reset() {
	w.mu.Lock()
	w.pcm = w.pcm[:0]
drain:
	for {
		select {
		case f := <-w.frames:
			if f.done != nil {
				close(f.done)
			}
		default:
			break drain
		}
	}
	w.mu.Unlock()
	_ = w.sendSignal(signalFrame{Type: TypeAudioReset})
}

// Close stops the pacer.
func (w *PacedWriter) Close() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
	w.mu.Unlock()
}

// Run sends one frame per interval until Close.
func (w *PacedWriter) Run() {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case f := <-w.frames:
				if f.done != nil {
					_ = w.sendSignal(signalFrame{Type: TypeAudioEnd})
					close(f.done)
					continue
				}
				_ = w.sendAudio(f.data)
			default:
			}
		}
	}
}

// push enqueues a frame, blocking until there is room or the writer stops.
func (w *PacedWriter) push(f pacedFrame) {
	select {
	case w.frames <- f:
	case <-w.stopCh:
	}
}
