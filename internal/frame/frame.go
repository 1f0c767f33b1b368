package frame

import "time"

// Frame is a single decoded video frame in packed BGR24 layout
// (len(Data) == Width*Height*3). Frames are transient: the capture reader
// owns a frame only until it hands it to the monitor.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Number    uint64
	Timestamp time.Time
}

// ByteSize returns the expected raw payload size for the frame geometry.
func ByteSize(width, height int) int {
	return width * height * 3
}
