package quicframing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
)

// ErrStreamIdBlockedCanceled is returned by RequestStream when the caller
// abandons the request before a limit increase resolves it.
var ErrStreamIdBlockedCanceled = errors.New("StreamIdBlocked request canceled")

// Streams tracks every stream of one connection under a single lock: the
// four allocation categories, the per-stream state and the control frames
// the registry queues on its own initiative.
type Streams struct {
	side Side
	lock sync.Mutex

	queue   []Frame
	streams map[uint64]*Stream
	open    [4]openStreams

	notifier Broadcaster
	Logger   *log.Logger
}

// openStreams is the allocation state of one stream-type category. A nil
// next means this side cannot initiate the category, or has exhausted it
// against the peer's advertised max.
type openStreams struct {
	next    *uint64
	max     uint64
	updates []*streamIdWaiter
}

type streamIdWaiter struct {
	streamId uint64
	done     chan uint64
}

type Stream struct {
	offset   uint64
	queued   [][]byte
	received [][]byte
}

func NewStream() *Stream {
	return new(Stream)
}

func NewStreams(side Side) *Streams {
	s := new(Streams)
	s.side = side
	s.streams = make(map[uint64]*Stream)
	s.notifier = NewBroadcaster(16)
	s.Logger = log.New(os.Stderr, fmt.Sprintf("[%s streams] ", side), log.Lshortfile)
	if side == SideClient {
		next := uint64(0)
		s.open[0].next = &next
	}
	return s
}

func (s *Streams) Side() Side { return s.side }

// RegisterWakeChan subscribes a channel on which the owning connection task
// is woken every time the registry queues an outbound frame. The
// notification carries the FrameType of the frame queued.
func (s *Streams) RegisterWakeChan(size int) chan interface{} {
	return s.notifier.RegisterNewChan(size)
}

// Queued pops the next self-generated outbound frame, or nil when there is
// none. The connection layer must drain this whenever it is woken.
func (s *Streams) Queued() Frame {
	s.lock.Lock()
	if len(s.queue) == 0 {
		s.lock.Unlock()
		return nil
	}
	frame := s.queue[0]
	s.queue = s.queue[1:]
	s.lock.Unlock()
	return frame
}

// InitSend allocates the next locally-initiated stream id of the given
// direction and returns a handle on it, or nil when this side has no id
// available in that category. It never consults the peer beyond the last
// advertised max; use RequestStream to wait for a limit increase.
func (s *Streams) InitSend(streamsType StreamsType) *StreamRef {
	s.lock.Lock()
	open := &s.open[s.side.bit()+streamsType.bit()]
	if open.next == nil {
		s.lock.Unlock()
		return nil
	}
	id := *open.next
	if id+4 <= open.max {
		next := id + 4
		open.next = &next
	} else {
		open.next = nil
	}
	s.streams[id] = NewStream()
	s.lock.Unlock()
	return &StreamRef{s, id}
}

// UpdateMaxId records a peer-advertised maximum stream id for the category
// id belongs to, and resolves every pending RequestStream call the new
// limit now covers.
func (s *Streams) UpdateMaxId(id uint64) {
	s.lock.Lock()
	open := &s.open[id%4]
	open.max = id
	var remaining []*streamIdWaiter
	for _, waiter := range open.updates {
		if waiter.streamId <= id {
			waiter.done <- id
		} else {
			remaining = append(remaining, waiter)
		}
	}
	open.updates = remaining
	s.lock.Unlock()
}

// Received accepts a peer-initiated stream id. Ids seen before return a
// handle on the existing stream; unknown ids beyond the advertised max are
// a protocol violation and return nil, to be escalated by the caller.
func (s *Streams) Received(id uint64) *StreamRef {
	s.lock.Lock()
	if _, ok := s.streams[id]; ok {
		s.lock.Unlock()
		return &StreamRef{s, id}
	}
	if max := s.open[id%4].max; id > max {
		s.lock.Unlock()
		s.Logger.Printf("Peer opened stream %d past the advertised maximum %d\n", id, max)
		return nil
	}
	s.streams[id] = NewStream()
	s.lock.Unlock()
	return &StreamRef{s, id}
}

// Has reports whether a stream entry exists for the given id.
func (s *Streams) Has(id uint64) bool {
	s.lock.Lock()
	_, ok := s.streams[id]
	s.lock.Unlock()
	return ok
}

// RequestStream waits until the peer authorizes the given locally-initiated
// stream id. When the id is already covered it returns immediately.
// Otherwise it queues a StreamIdBlockedFrame, wakes the connection task and
// blocks until UpdateMaxId covers the id or ctx is done, in which case it
// returns ErrStreamIdBlockedCanceled.
func (s *Streams) RequestStream(ctx context.Context, id uint64) error {
	s.lock.Lock()
	open := &s.open[id%4]
	if id <= open.max {
		s.lock.Unlock()
		return nil
	}
	waiter := &streamIdWaiter{streamId: id, done: make(chan uint64, 1)}
	open.updates = append(open.updates, waiter)
	frame := &StreamIdBlockedFrame{StreamId: id}
	s.queue = append(s.queue, frame)
	s.lock.Unlock()

	s.Logger.Printf("Stream %d is blocked on the peer limit, queueing %s\n", id, frame.FrameType())
	s.notifier.Submit(frame.FrameType())

	select {
	case <-waiter.done:
		return nil
	case <-ctx.Done():
		s.lock.Lock()
		removed := false
		for i, w := range open.updates {
			if w == waiter {
				open.updates = append(open.updates[:i], open.updates[i+1:]...)
				removed = true
				break
			}
		}
		s.lock.Unlock()
		if !removed {
			// UpdateMaxId resolved the waiter before the cancellation
			// was observed, so the request succeeded.
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStreamIdBlockedCanceled, ctx.Err())
	}
}

// StreamRef is a lightweight handle on one stream of a registry. Every
// operation takes the registry lock; the handle itself holds no state
// besides the id.
type StreamRef struct {
	streams *Streams
	id      uint64
}

func (r *StreamRef) StreamId() uint64 { return r.id }

func (r *StreamRef) GetOffset() uint64 {
	r.streams.lock.Lock()
	offset := r.streams.streams[r.id].offset
	r.streams.lock.Unlock()
	return offset
}

func (r *StreamRef) SetOffset(new uint64) {
	r.streams.lock.Lock()
	r.streams.streams[r.id].offset = new
	r.streams.lock.Unlock()
}

// QueueWrite appends an opaque chunk to the stream's outgoing buffer.
func (r *StreamRef) QueueWrite(data []byte) {
	r.streams.lock.Lock()
	stream := r.streams.streams[r.id]
	stream.queued = append(stream.queued, data)
	r.streams.lock.Unlock()
}

// NextWrite pops the oldest outgoing chunk, to be carried in a stream frame
// by the connection layer.
func (r *StreamRef) NextWrite() ([]byte, bool) {
	r.streams.lock.Lock()
	stream := r.streams.streams[r.id]
	if len(stream.queued) == 0 {
		r.streams.lock.Unlock()
		return nil, false
	}
	data := stream.queued[0]
	stream.queued = stream.queued[1:]
	r.streams.lock.Unlock()
	return data, true
}

// QueueRead appends an opaque chunk received for this stream. No ordering
// or reassembly happens here; chunks come out in arrival order.
func (r *StreamRef) QueueRead(data []byte) {
	r.streams.lock.Lock()
	stream := r.streams.streams[r.id]
	stream.received = append(stream.received, data)
	r.streams.lock.Unlock()
}

// NextRead pops the oldest received chunk.
func (r *StreamRef) NextRead() ([]byte, bool) {
	r.streams.lock.Lock()
	stream := r.streams.streams[r.id]
	if len(stream.received) == 0 {
		r.streams.lock.Unlock()
		return nil, false
	}
	data := stream.received[0]
	stream.received = stream.received[1:]
	r.streams.lock.Unlock()
	return data, true
}
