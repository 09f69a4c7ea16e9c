package quicframing

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
)

func TestStreamIdPredicates(t *testing.T) {
	for streamId, expected := range map[uint64][4]bool{
		// IsBidiClient, IsBidiServer, IsUniClient, IsUniServer
		0:  {true, false, false, false},
		5:  {false, true, false, false},
		10: {false, false, true, false},
		15: {false, false, false, true},
	} {
		got := [4]bool{IsBidiClient(streamId), IsBidiServer(streamId), IsUniClient(streamId), IsUniServer(streamId)}
		if got != expected {
			t.Errorf("stream %d: expected %v, got %v", streamId, expected, got)
		}
	}
	if GetMaxUniClient(3) != 14 || GetMaxUniServer(3) != 15 {
		t.Error("count limits should map onto the highest id of their category")
	}
}

func TestInitSendCategories(t *testing.T) {
	s := NewStreams(SideClient)
	s.UpdateMaxId(GetMaxBidiClient(2)) // authorizes up to stream id 8

	for i, expected := range []uint64{0, 4, 8} {
		ref := s.InitSend(BidiStreams)
		if ref == nil {
			t.Fatalf("allocation %d should succeed", i)
		}
		if ref.StreamId() != expected {
			t.Errorf("allocation %d: expected stream id %d, got %d", i, expected, ref.StreamId())
		}
		if !s.Has(ref.StreamId()) {
			t.Errorf("stream %d should have an entry", ref.StreamId())
		}
	}
	if ref := s.InitSend(BidiStreams); ref != nil {
		t.Errorf("the category is exhausted, got stream id %d", ref.StreamId())
	}
	if ref := s.InitSend(UniStreams); ref != nil {
		t.Errorf("client unidirectional streams are not seeded, got stream id %d", ref.StreamId())
	}
}

func TestInitSendFirstIdWithoutLimit(t *testing.T) {
	s := NewStreams(SideClient)
	ref := s.InitSend(BidiStreams)
	if ref == nil || ref.StreamId() != 0 {
		t.Fatalf("the seeded first id should be allocatable before any limit, got %s", spew.Sdump(ref))
	}
	if s.InitSend(BidiStreams) != nil {
		t.Error("no second id is authorized yet")
	}
}

func TestInitSendServerSide(t *testing.T) {
	s := NewStreams(SideServer)
	s.UpdateMaxId(GetMaxBidiServer(4))
	if s.InitSend(BidiStreams) != nil {
		t.Error("server-initiated bidirectional streams are not seeded in this configuration")
	}
	if s.InitSend(UniStreams) != nil {
		t.Error("server-initiated unidirectional streams are not seeded in this configuration")
	}
}

func TestReceivedEnforcesLimit(t *testing.T) {
	s := NewStreams(SideClient)
	s.Logger.SetOutput(new(bytes.Buffer))
	s.UpdateMaxId(GetMaxBidiServer(1)) // authorizes up to stream id 5

	if ref := s.Received(9); ref != nil {
		t.Errorf("stream 9 exceeds the advertised maximum, got a handle on %d", ref.StreamId())
	}
	if s.Has(9) {
		t.Error("no entry should be created for a refused stream")
	}

	ref := s.Received(5)
	if ref == nil {
		t.Fatal("stream 5 is within the advertised maximum")
	}
	ref.SetOffset(1024)

	again := s.Received(5)
	if again == nil {
		t.Fatal("a known stream id must always return a handle")
	}
	if again.GetOffset() != 1024 {
		t.Errorf("both handles should see the same stream, offset is %d", again.GetOffset())
	}
}

func TestRequestStreamImmediate(t *testing.T) {
	s := NewStreams(SideClient)
	s.UpdateMaxId(GetMaxBidiClient(2))

	if err := s.RequestStream(context.Background(), 8); err != nil {
		t.Fatal(err)
	}
	if frame := s.Queued(); frame != nil {
		t.Errorf("no frame should be queued for an authorized id, got %s", frame.FrameType())
	}
}

func TestRequestStreamBlocksAndUnblocks(t *testing.T) {
	s := NewStreams(SideClient)
	s.Logger.SetOutput(new(bytes.Buffer))
	wake := s.RegisterWakeChan(16)

	result := make(chan error, 1)
	go func() {
		result <- s.RequestStream(context.Background(), 12)
	}()

	select {
	case notification := <-wake:
		if notification.(FrameType) != StreamIdBlockedType {
			t.Errorf("expected a %s notification, got %s", StreamIdBlockedType, notification)
		}
	case <-time.After(time.Second):
		t.Fatal("the connection task was never woken")
	}

	frame := s.Queued()
	if frame == nil {
		t.Fatal("a StreamIdBlocked frame should be queued")
	}
	blocked, ok := frame.(*StreamIdBlockedFrame)
	if !ok || blocked.StreamId != 12 {
		t.Fatalf("expected StreamIdBlocked(12), got %s", spew.Sdump(frame))
	}
	if s.Queued() != nil {
		t.Error("exactly one frame should have been queued")
	}

	select {
	case err := <-result:
		t.Fatalf("the request should still be pending, got %v", err)
	default:
	}

	s.UpdateMaxId(12)
	select {
	case err := <-result:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("the limit increase should resolve the pending request")
	}
}

func TestRequestStreamPartialUpdate(t *testing.T) {
	s := NewStreams(SideClient)
	s.Logger.SetOutput(new(bytes.Buffer))

	first := make(chan error, 1)
	second := make(chan error, 1)
	go func() { first <- s.RequestStream(context.Background(), 12) }()
	go func() { second <- s.RequestStream(context.Background(), 16) }()

	for i := 0; i < 2; i++ {
		if waitForQueued(t, s) == nil {
			t.Fatal("both requests should queue a frame")
		}
	}

	s.UpdateMaxId(12)
	select {
	case err := <-first:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("the request for stream 12 should be resolved")
	}
	select {
	case err := <-second:
		t.Fatalf("the request for stream 16 should still be pending, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	s.UpdateMaxId(16)
	select {
	case err := <-second:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("the request for stream 16 should be resolved")
	}
}

func TestRequestStreamCanceled(t *testing.T) {
	s := NewStreams(SideClient)
	s.Logger.SetOutput(new(bytes.Buffer))

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- s.RequestStream(ctx, 12) }()

	if waitForQueued(t, s) == nil {
		t.Fatal("a StreamIdBlocked frame should be queued")
	}
	cancel()

	select {
	case err := <-result:
		if !errors.Is(err, ErrStreamIdBlockedCanceled) {
			t.Fatalf("expected ErrStreamIdBlockedCanceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancellation should resolve the pending request")
	}

	// The waiter is gone, a later limit increase must not resolve it twice.
	s.UpdateMaxId(12)
	if err := s.RequestStream(context.Background(), 12); err != nil {
		t.Fatal(err)
	}
}

func TestStreamRefOffsets(t *testing.T) {
	s := NewStreams(SideClient)
	ref := s.InitSend(BidiStreams)
	if ref == nil {
		t.Fatal("allocation should succeed")
	}
	if ref.GetOffset() != 0 {
		t.Errorf("a new stream starts at offset 0, got %d", ref.GetOffset())
	}
	ref.SetOffset(42)
	if ref.GetOffset() != 42 {
		t.Errorf("expected offset 42, got %d", ref.GetOffset())
	}
}

func TestStreamBuffers(t *testing.T) {
	s := NewStreams(SideClient)
	ref := s.InitSend(BidiStreams)

	if _, ok := ref.NextWrite(); ok {
		t.Error("a new stream has no queued chunks")
	}
	ref.QueueWrite([]byte("first"))
	ref.QueueWrite([]byte("second"))
	ref.QueueRead([]byte("incoming"))

	if data, ok := ref.NextWrite(); !ok || !bytes.Equal(data, []byte("first")) {
		t.Errorf("expected the oldest chunk first, got %q", data)
	}
	if data, ok := ref.NextWrite(); !ok || !bytes.Equal(data, []byte("second")) {
		t.Errorf("expected the second chunk, got %q", data)
	}
	if _, ok := ref.NextWrite(); ok {
		t.Error("the outgoing buffer should be drained")
	}
	if data, ok := ref.NextRead(); !ok || !bytes.Equal(data, []byte("incoming")) {
		t.Errorf("expected the received chunk, got %q", data)
	}
	if _, ok := ref.NextRead(); ok {
		t.Error("the incoming buffer should be drained")
	}
}

func waitForQueued(t *testing.T, s *Streams) Frame {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if frame := s.Queued(); frame != nil {
			return frame
		}
		select {
		case <-deadline:
			return nil
		case <-time.After(time.Millisecond):
		}
	}
}
