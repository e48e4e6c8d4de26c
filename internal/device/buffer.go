package device

import "time"

// Buffer is a handle to one slot of pool memory. Data is lent to
// consumers and never copied; ownership returns to the pool through
// QueueToDevice. SessionID tags which streaming session last dequeued
// the buffer; the pool rejects returns from an older session.
type Buffer struct {
	Index     int
	Data      []byte
	Length    int
	Format    FrameFormat
	SessionID uint64
	Timestamp time.Time
}
