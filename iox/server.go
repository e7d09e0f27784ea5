// Package iox implements the external I/O transfer server: one Unix domain
// socket per peripheral instance, speaking a small length-delimited framed
// protocol so an outside process (a Python test harness, a device
// simulator) can inject and observe traffic on a peripheral without the
// emulated CPU being aware of anything but register writes.
//
// Frames are little-endian: a 4-byte header (seq, cat, id, len) followed
// by len payload bytes. seq bit 7 carries direction: clear for frames
// arriving from the client, set for frames the server sends out. A reply
// to a client frame copies the request's seq verbatim (with bit 7 set).
package iox

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const headerSize = 4

const dirBit = 0x80

// Category/ID well-known values shared across peripherals.
const (
	CatData  = 0x01
	CatFault = 0x02
	CatPin   = 0x01 // PIO reuses CAT=0x01 with its own ID space

	IDDataIn     = 0x01
	IDDataOut    = 0x02
	IDCtrlStart  = 0x03
	IDCtrlStop   = 0x04

	IDPinEnable  = 0x01
	IDPinDisable = 0x02
	IDPinOut     = 0x03
	IDPinGet     = 0x04
)

// Frame is one parsed inbound or outbound message.
type Frame struct {
	Seq     byte
	Cat     byte
	ID      byte
	Payload []byte
}

// Handler is implemented by the peripheral a Server is attached to. It is
// invoked once per complete inbound frame, with the frame dispatch and any
// resulting buffer mutation happening atomically (no other frame is parsed
// until HandleFrame returns).
type Handler interface {
	HandleFrame(f Frame)
}

// Server owns one listening Unix socket and at most one connected client.
// Accept, read and write are all non-blocking: Poll must be called
// regularly from the host event loop.
type Server struct {
	Path    string
	handler Handler

	listenFD int
	clientFD int // -1 when no client connected

	recvBuf []byte // accumulates partial inbound frame bytes

	nextSeq byte
}

// NewServer binds path (removing any stale socket file left over from a
// prior run) and starts listening. It does not accept a client yet; call
// Poll from the event loop to drive accept/read.
func NewServer(path string, handler Handler) (*Server, error) {
	unix.Unlink(path)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("iox: socket(%s): %w", path, err)
	}
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("iox: bind(%s): %w", path, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("iox: listen(%s): %w", path, err)
	}
	// Socket files default to the umask; widen so a harness running as a
	// different uid in the same sandbox can still connect.
	unix.Fchmod(fd, 0666)

	return &Server{Path: path, handler: handler, listenFD: fd, clientFD: -1}, nil
}

// Connected reports whether a client is currently attached.
func (s *Server) Connected() bool {
	return s.clientFD >= 0
}

// Poll drives one non-blocking iteration: accept a pending client if none
// is connected, then drain whatever bytes are available and dispatch any
// complete frames. It never blocks.
func (s *Server) Poll() {
	if s.clientFD < 0 {
		s.tryAccept()
	}
	if s.clientFD >= 0 {
		s.drainClient()
	}
}

func (s *Server) tryAccept() {
	fd, _, err := unix.Accept(s.listenFD)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		fmt.Printf("iox: accept(%s): %v\n", s.Path, err)
		return
	}
	unix.SetNonblock(fd, true)
	s.clientFD = fd
	s.recvBuf = s.recvBuf[:0]
}

func (s *Server) drainClient() {
	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(s.clientFD, buf)
		if n > 0 {
			s.recvBuf = append(s.recvBuf, buf[:n]...)
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			s.closeClient()
			return
		}
		if n == 0 {
			s.closeClient()
			return
		}
		if n < len(buf) {
			break
		}
	}
	s.dispatchComplete()
}

func (s *Server) closeClient() {
	unix.Close(s.clientFD)
	s.clientFD = -1
	s.recvBuf = s.recvBuf[:0]
}

// dispatchComplete pulls as many complete frames as are buffered and hands
// each to the handler in order. A frame is removed from the buffer before
// its handler runs, and the next frame is parsed only after that handler
// returns.
func (s *Server) dispatchComplete() {
	for {
		if len(s.recvBuf) < headerSize {
			return
		}
		length := int(s.recvBuf[3])
		total := headerSize + length
		if len(s.recvBuf) < total {
			return
		}
		f := Frame{
			Seq: s.recvBuf[0],
			Cat: s.recvBuf[1],
			ID:  s.recvBuf[2],
		}
		if length > 0 {
			f.Payload = append([]byte(nil), s.recvBuf[headerSize:total]...)
		}
		s.recvBuf = s.recvBuf[total:]
		s.handler.HandleFrame(f)
	}
}

// Send transmits an outbound frame, auto-assigning and incrementing the
// sequence number with the direction bit forced set. Payloads over 255
// bytes are automatically split into multiple frames sharing one sequence
// ID (multiframe), per the protocol's length-byte limit.
func (s *Server) Send(cat, id byte, payload []byte) {
	seq := s.nextSeq | dirBit
	s.nextSeq++

	if len(payload) == 0 {
		s.writeFrame(seq, cat, id, nil)
		return
	}
	for off := 0; off < len(payload); off += 255 {
		end := off + 255
		if end > len(payload) {
			end = len(payload)
		}
		s.writeFrame(seq, cat, id, payload[off:end])
	}
}

// Reply transmits an outbound frame whose sequence copies the originating
// request's, with the direction bit set, per the protocol's response
// convention.
func (s *Server) Reply(req Frame, cat, id byte, payload []byte) {
	s.writeFrame(req.Seq|dirBit, cat, id, payload)
}

func (s *Server) writeFrame(seq, cat, id byte, payload []byte) {
	if s.clientFD < 0 {
		return
	}
	buf := make([]byte, headerSize+len(payload))
	buf[0] = seq
	buf[1] = cat
	buf[2] = id
	buf[3] = byte(len(payload))
	copy(buf[headerSize:], payload)

	for written := 0; written < len(buf); {
		n, err := unix.Write(s.clientFD, buf[written:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				continue
			}
			fmt.Printf("iox: write(%s): %v\n", s.Path, err)
			s.closeClient()
			return
		}
		written += n
	}
}

// Close tears down the listener and any connected client, and removes the
// socket file.
func (s *Server) Close() {
	if s.clientFD >= 0 {
		unix.Close(s.clientFD)
		s.clientFD = -1
	}
	if s.listenFD >= 0 {
		unix.Close(s.listenFD)
		s.listenFD = -1
	}
	unix.Unlink(s.Path)
}

// PeerCredentials reports the connected client's uid/gid/pid through
// SO_PEERCRED, for diagnostics distinguishing which harness process is
// attached. It returns ok=false when no client is connected.
func (s *Server) PeerCredentials() (cred *unix.Ucred, ok bool) {
	if s.clientFD < 0 {
		return nil, false
	}
	ucred, err := unix.GetsockoptUcred(s.clientFD, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return nil, false
	}
	return ucred, true
}

// StatusOK and StatusENXIO are the u32 reply codes used by USART DATA_IN
// and other peripherals that report an enable-gated failure.
const (
	StatusOK    = 0
	StatusENXIO = 6
)
