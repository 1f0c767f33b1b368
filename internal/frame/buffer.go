package frame

import (
	"sync"
	"time"
)

// BufferedFrame is a JPEG-compressed frame retained in the rolling buffer.
type BufferedFrame struct {
	JPEG      []byte
	Timestamp time.Time
	Number    uint64
}

// Buffer is a fixed-capacity ring of JPEG-compressed frames covering the
// trailing buffer_seconds of the stream. Insertion order is chronological;
// eviction is FIFO. The fixed capacity is deliberate: an unbounded queue
// would mask lag between capture and downstream consumers.
type Buffer struct {
	mu       sync.Mutex
	frames   []BufferedFrame
	head     int // index of the oldest frame
	count    int
	capacity int
	quality  int
}

// NewBuffer sizes the ring for seconds*fps frames compressed at the given
// JPEG quality.
func NewBuffer(seconds, fps, quality int) *Buffer {
	capacity := seconds * fps
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		frames:   make([]BufferedFrame, capacity),
		capacity: capacity,
		quality:  quality,
	}
}

// AddFrame compresses the frame and pushes it onto the ring, evicting the
// oldest entry when full. The stored BufferedFrame is returned so callers
// can reuse the JPEG bytes (detector upload, thumbnails) without a second
// compression pass.
func (b *Buffer) AddFrame(f *Frame) (BufferedFrame, error) {
	data, err := EncodeJPEG(f, b.quality)
	if err != nil {
		return BufferedFrame{}, err
	}
	bf := BufferedFrame{JPEG: data, Timestamp: f.Timestamp, Number: f.Number}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == b.capacity {
		b.frames[b.head] = bf
		b.head = (b.head + 1) % b.capacity
	} else {
		b.frames[(b.head+b.count)%b.capacity] = bf
		b.count++
	}
	return bf, nil
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Clear drops all buffered frames.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
	for i := range b.frames {
		b.frames[i] = BufferedFrame{}
	}
}

// Newest returns the most recently buffered frame.
func (b *Buffer) Newest() (BufferedFrame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return BufferedFrame{}, false
	}
	return b.frames[(b.head+b.count-1)%b.capacity], true
}

// FramesInRange returns the frames with start <= timestamp <= end in
// chronological order. The returned slice is a snapshot; the ring may
// evict the underlying entries immediately after.
func (b *Buffer) FramesInRange(start, end time.Time) []BufferedFrame {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]BufferedFrame, 0, b.count)
	for i := 0; i < b.count; i++ {
		bf := b.frames[(b.head+i)%b.capacity]
		if bf.Timestamp.Before(start) {
			continue
		}
		if bf.Timestamp.After(end) {
			break
		}
		out = append(out, bf)
	}
	return out
}

// FramesBefore returns the frames in [t-seconds, t].
func (b *Buffer) FramesBefore(t time.Time, seconds int) []BufferedFrame {
	return b.FramesInRange(t.Add(-time.Duration(seconds)*time.Second), t)
}

// Recent returns the trailing window ending at the newest buffered frame.
func (b *Buffer) Recent(seconds int) []BufferedFrame {
	newest, ok := b.Newest()
	if !ok {
		return nil
	}
	return b.FramesBefore(newest.Timestamp, seconds)
}
