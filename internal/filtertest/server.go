// Package filtertest runs a scripted milter filter on a loopback socket.
package filtertest

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-mtamilter/internal/wire"
)

// Server is a fake filter. It answers OPTNEG with Version, Actions and
// Events and every other command with Respond.
type Server struct {
	Version uint32
	Actions uint32
	Events  uint32

	// Respond returns the replies to one command. Nil uses Default.
	Respond func(f wire.Frame) []wire.Frame

	// NegotiateReply, if set, replaces the OPTNEG reply.
	NegotiateReply func(f wire.Frame) []wire.Frame

	l  net.Listener
	wg sync.WaitGroup

	mu       sync.Mutex
	frames   []wire.Frame
	conns    map[net.Conn]struct{}
	accepted int
	err      error
}

// noHeaderReply is SMFIP_NOHREPL.
const noHeaderReply = 1 << 7

// Default replies continue to every event, except those the filter
// never answers.
func (s *Server) Default(f wire.Frame) []wire.Frame {
	switch wire.Code(f.Code) {
	case wire.CodeMacro, wire.CodeAbort, wire.CodeQuit:
		return nil
	case wire.CodeHeader:
		if s.Events&noHeaderReply != 0 {
			return nil
		}
	}
	return []wire.Frame{Continue()}
}

// Start listens on 127.0.0.1 and returns the endpoint for a client. The
// server is closed when the test ends.
func (s *Server) Start(t testing.TB) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s.track(l)
	go func() { _ = s.serve(l) }()
	t.Cleanup(func() { _ = s.Close() })
	return "inet:" + l.Addr().String()
}

// Serve accepts connections on l until Close.
func (s *Server) Serve(l net.Listener) error {
	s.track(l)
	return s.serve(l)
}

func (s *Server) track(l net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l = l
	if s.conns == nil {
		s.conns = make(map[net.Conn]struct{})
	}
	s.wg.Add(1)
}

func (s *Server) serve(l net.Listener) error {
	defer s.wg.Done()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.accepted++
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	r := bufio.NewReader(conn)
	for {
		f, err := wire.ReadFrame(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.setErr(err)
			}
			return
		}
		s.mu.Lock()
		s.frames = append(s.frames, *f)
		s.mu.Unlock()

		var replies []wire.Frame
		switch {
		case wire.Code(f.Code) == wire.CodeQuit:
			return
		case wire.Code(f.Code) == wire.CodeOptNeg && s.NegotiateReply != nil:
			replies = s.NegotiateReply(*f)
		case wire.Code(f.Code) == wire.CodeOptNeg:
			replies = []wire.Frame{OptNeg(s.Version, s.Actions, s.Events)}
		case s.Respond != nil:
			replies = s.Respond(*f)
		default:
			replies = s.Default(*f)
		}

		for i := range replies {
			if err := wire.WriteFrame(conn, &replies[i]); err != nil {
				s.setErr(err)
				return
			}
		}
	}
}

func (s *Server) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Close stops accepting and waits for open connections to finish. Client
// connections that stay open are cut after a grace period.
func (s *Server) Close() error {
	s.mu.Lock()
	l := s.l
	s.mu.Unlock()
	var err error
	if l != nil {
		err = l.Close()
		// Serve reports the error itself.
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		<-done
	}
	return err
}

// Frames returns every command received so far, in order.
func (s *Server) Frames() []wire.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.Frame(nil), s.frames...)
}

// Codes returns the command codes received so far, e.g. "OCDH".
func (s *Server) Codes() string {
	var b bytes.Buffer
	for _, f := range s.Frames() {
		b.WriteByte(f.Code)
	}
	return b.String()
}

// Connections returns the number of accepted connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Err returns the first protocol error seen by the server.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
