package iox

import (
	"math/rand"
	"testing"

	"golang.org/x/sys/unix"
)

type recordingHandler struct {
	frames []Frame
}

func (h *recordingHandler) HandleFrame(f Frame) {
	h.frames = append(h.frames, f)
}

// newLoopback wires a Server directly onto one end of a socketpair,
// bypassing the filesystem listener so tests don't touch the filesystem.
func newLoopback(t *testing.T, h Handler) (*Server, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	s := &Server{Path: "<loopback>", handler: h, listenFD: -1, clientFD: fds[0]}
	return s, fds[1]
}

func encodeFrame(seq, cat, id byte, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	buf[0], buf[1], buf[2], buf[3] = seq, cat, id, byte(len(payload))
	copy(buf[headerSize:], payload)
	return buf
}

func TestFrameReconstructionUnderArbitraryChunking(t *testing.T) {
	h := &recordingHandler{}
	s, peer := newLoopback(t, h)
	defer unix.Close(peer)
	defer s.Close()

	var want []Frame
	var wire []byte
	for i := 0; i < 20; i++ {
		n := rand.Intn(10)
		payload := make([]byte, n)
		for j := range payload {
			payload[j] = byte(i*7 + j)
		}
		f := Frame{Seq: byte(i), Cat: CatData, ID: IDDataOut, Payload: payload}
		if n == 0 {
			f.Payload = nil
		}
		want = append(want, f)
		wire = append(wire, encodeFrame(f.Seq, f.Cat, f.ID, payload)...)
	}

	// Feed the wire bytes to the client end in random-sized chunks,
	// polling the server between each write.
	for len(wire) > 0 {
		n := 1 + rand.Intn(5)
		if n > len(wire) {
			n = len(wire)
		}
		if _, err := unix.Write(peer, wire[:n]); err != nil {
			t.Fatalf("write chunk: %v", err)
		}
		wire = wire[n:]
		s.Poll()
	}
	// Final drain in case the last chunk's frame arrived but Poll raced it.
	s.Poll()

	if len(h.frames) != len(want) {
		t.Fatalf("got %d frames, want %d", len(h.frames), len(want))
	}
	for i := range want {
		got := h.frames[i]
		if got.Seq != want[i].Seq || got.Cat != want[i].Cat || got.ID != want[i].ID {
			t.Fatalf("frame %d header mismatch: got %+v want %+v", i, got, want[i])
		}
		if len(got.Payload) != len(want[i].Payload) {
			t.Fatalf("frame %d payload length mismatch: got %d want %d", i, len(got.Payload), len(want[i].Payload))
		}
		for j := range got.Payload {
			if got.Payload[j] != want[i].Payload[j] {
				t.Fatalf("frame %d payload[%d] mismatch", i, j)
			}
		}
	}
}

func TestSeqDirectionBits(t *testing.T) {
	h := &recordingHandler{}
	s, peer := newLoopback(t, h)
	defer unix.Close(peer)
	defer s.Close()

	inbound := encodeFrame(0x05, CatData, IDDataOut, []byte("hi"))
	if _, err := unix.Write(peer, inbound); err != nil {
		t.Fatalf("write: %v", err)
	}
	s.Poll()
	if len(h.frames) != 1 {
		t.Fatalf("expected 1 frame dispatched, got %d", len(h.frames))
	}
	if h.frames[0].Seq&dirBit != 0 {
		t.Fatal("inbound frame must not have direction bit set")
	}

	s.Send(CatData, IDDataIn, []byte{0x61})

	buf := make([]byte, 64)
	var n int
	for n == 0 {
		var err error
		n, err = unix.Read(peer, buf)
		if err != nil && err != unix.EAGAIN {
			t.Fatalf("read reply: %v", err)
		}
	}
	if buf[0]&dirBit == 0 {
		t.Fatal("outbound frame must have direction bit set")
	}
}

func TestMultiframeSplitAtOutboundLimit(t *testing.T) {
	h := &recordingHandler{}
	s, peer := newLoopback(t, h)
	defer unix.Close(peer)
	defer s.Close()

	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}
	s.Send(CatData, IDDataOut, payload)

	var got []byte
	buf := make([]byte, 4096)
	for len(got) < headerSize*2+len(payload) {
		n, err := unix.Read(peer, buf)
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			t.Fatalf("read: %v", err)
		}
		got = append(got, buf[:n]...)
	}

	first := got[:headerSize+255]
	second := got[headerSize+255:]
	if first[3] != 255 {
		t.Fatalf("first frame length = %d, want 255", first[3])
	}
	if second[3] != byte(len(payload)-255) {
		t.Fatalf("second frame length = %d, want %d", second[3], len(payload)-255)
	}
	if first[0] != second[0] {
		t.Fatal("multiframe parts must share one sequence ID")
	}
}
