package mqtt

import "log"

// ringBuffer holds messages, oldest first, while the broker is unreachable.
// A retained message supersedes any buffered retained message on the same
// topic, since the broker would keep only the newest anyway. When full the
// oldest message is dropped. Not safe for concurrent use.
type ringBuffer struct {
	msgs     []Message
	capacity int
	dropped  uint64
	overflow bool // logged since the last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		msgs:     make([]Message, 0, capacity),
		capacity: capacity,
	}
}

func (r *ringBuffer) push(msg Message) {
	if msg.Retained {
		for i, m := range r.msgs {
			if m.Retained && m.Topic == msg.Topic {
				r.msgs = append(r.msgs[:i], r.msgs[i+1:]...)
				break
			}
		}
	}
	if len(r.msgs) == r.capacity {
		if !r.overflow {
			log.Printf("mqtt: buffer full (%d messages), dropping oldest", r.capacity)
			r.overflow = true
		}
		r.msgs = append(r.msgs[:0], r.msgs[1:]...)
		r.dropped++
	}
	r.msgs = append(r.msgs, msg)
}

func (r *ringBuffer) drainAll() []Message {
	if len(r.msgs) == 0 {
		return nil
	}
	result := make([]Message, len(r.msgs))
	copy(result, r.msgs)
	r.msgs = r.msgs[:0]
	r.overflow = false
	return result
}

func (r *ringBuffer) len() int {
	return len(r.msgs)
}
