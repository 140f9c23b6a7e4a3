package milter

import (
	"bufio"
	"context"
	"errors"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid"
	"go.uber.org/zap"

	"github.com/emersion/go-mtamilter/internal/wire"
)

// Client holds the settings for one filter. It is safe to create
// sessions from several goroutines, each session itself is not.
type Client struct {
	endpoint string
	opts     ClientOptions
	log      *zap.Logger

	network string
	address string
	// Setup problems are reported by the first Connect of every session.
	setupErr *Error

	version uint32
	events  OptProtocol
}

// NewClient creates a Client for endpoint (e.g. "inet:127.0.0.1:8891" or
// "unix:/run/milter.sock") with DefaultClientOptions.
func NewClient(endpoint string) *Client {
	return NewClientWithOptions(endpoint, DefaultClientOptions())
}

// NewClientWithOptions creates a Client for endpoint. Zero option fields
// take their defaults.
func NewClientWithOptions(endpoint string, opts ClientOptions) *Client {
	opts = opts.withDefaults()
	c := &Client{
		endpoint: endpoint,
		opts:     opts,
		log:      opts.Logger.With(zap.String("milter", endpoint)),
	}

	version, events, err := parseProtocol(opts.Protocol)
	if err != nil {
		c.setupErr = confError("protocol", err)
	} else {
		c.version = version
		c.events = events &^ opts.DisabledEvents
	}
	if c.setupErr == nil {
		c.network, c.address, err = parseEndpoint(endpoint)
		if err != nil {
			c.setupErr = confError("endpoint", err)
		}
	}
	if c.setupErr != nil {
		c.log.Warn("milter client is unusable", zap.Error(c.setupErr))
	}
	return c
}

// Endpoint returns the endpoint the client was created with.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Session starts the filter conversation for one SMTP connection. Edit
// requests are forwarded to editor; a nil editor drops them.
//
// No I/O happens until Connect.
func (c *Client) Session(editor Editor) *ClientSession {
	id := newSessionID()
	s := &ClientSession{
		client: c,
		id:     id.String(),
		log:    c.log.With(zap.String("session", id.String())),
		editor: editor,
		state:  StateClosed,
	}
	if editor == nil {
		s.editor = discardEditor{}
		s.dropEdits = true
	}
	return s
}

func newSessionID() ulid.ULID {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// ClientSession is the filter conversation for one SMTP connection. It
// must be used by a single goroutine.
//
// Every stage method returns the filter's verdict: the empty string when
// the filter has no objection, an SMTP reply such as
// "550 5.7.1 Command rejected", or one of ReplyDiscard, ReplyQuarantine
// and ReplyShutdown.
type ClientSession struct {
	client    *Client
	id        string
	log       *zap.Logger
	editor    Editor
	dropEdits bool

	conn    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	timeout time.Duration

	state State
	// reply is the sticky reply. Once set, every event returns it without
	// talking to the filter.
	reply *string
	err   error

	version uint32
	actions OptAction
	events  OptProtocol
	npMask  OptProtocol
}

// ID returns the unique identifier logged with every session message.
func (s *ClientSession) ID() string { return s.id }

func (s *ClientSession) State() State { return s.state }

// Err returns the error that moved the session to StateError, if any.
func (s *ClientSession) Err() error { return s.err }

// Version returns the protocol version announced by the filter.
func (s *ClientSession) Version() uint32 { return s.version }

// Actions returns the edits the filter asked for during negotiation.
func (s *ClientSession) Actions() OptAction { return s.actions }

// Events returns the event opt-outs the filter asked for during
// negotiation.
func (s *ClientSession) Events() OptProtocol { return s.events }

// Active reports whether the filter still wants to see events for the
// current message.
func (s *ClientSession) Active() bool {
	return s.conn != nil && (s.state == StateReady || s.state == StateEnvelope)
}

// Close drops the filter connection without saying goodbye. Use
// Disconnect at the end of an SMTP connection instead.
func (s *ClientSession) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn, s.r, s.w = nil, nil, nil
	return err
}

func (s *ClientSession) stickyReply() string {
	if s.reply == nil {
		return ""
	}
	return *s.reply
}

func (s *ClientSession) setReply(reply string) string {
	s.reply = &reply
	return reply
}

func (s *ClientSession) clearReply() {
	s.reply = nil
}

// dial opens a new connection bounded by the connect timeout.
func (s *ClientSession) dial() error {
	c := s.client
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
	defer cancel()

	conn, err := c.opts.Dialer.DialContext(ctx, c.network, c.address)
	if err != nil {
		return err
	}
	s.conn = conn
	s.r = bufio.NewReader(conn)
	s.w = bufio.NewWriter(conn)
	s.timeout = c.opts.CommandTimeout
	return nil
}

var errNotConnected = errors.New("not connected")

// readHeader reads the code and payload length of the next reply.
func (s *ClientSession) readHeader() (wire.Reply, *wire.Payload, error) {
	if s.conn == nil {
		return 0, nil, errNotConnected
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return 0, nil, err
	}
	code, n, err := wire.DecodeHeader(s.r)
	if err != nil {
		return 0, nil, err
	}
	return wire.Reply(code), wire.NewPayload(s.r, n), nil
}

// writeFrames sends frames in one buffered write.
func (s *ClientSession) writeFrames(frames ...[]byte) error {
	if s.conn == nil {
		return errNotConnected
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	for _, f := range frames {
		if _, err := s.w.Write(f); err != nil {
			return err
		}
	}
	return s.w.Flush()
}

// fail tears the connection down after err and returns the reply the
// default action calls for. The reply becomes sticky.
func (s *ClientSession) fail(err *Error) string {
	s.log.Warn("milter failure", zap.String("op", err.Op), zap.Stringer("kind", err.Kind), zap.Error(err.Err))
	if s.conn != nil {
		_ = s.Close()
	}
	s.state = StateError
	s.err = err

	action := s.client.opts.DefaultAction
	switch {
	case strings.EqualFold(action, DefaultAccept):
		s.clearReply()
		return ""
	case err.Kind == KindConfiguration:
		return s.setReply(replyConfigProblem)
	case strings.EqualFold(action, DefaultReject):
		return s.setReply("550 5.5.0 Service unavailable")
	case strings.EqualFold(action, DefaultTempFail):
		return s.setReply(replyTempFail)
	}
	s.log.Warn("unrecognized default action", zap.String("default_action", action))
	return s.setReply(replyConfigProblem)
}

func (s *ClientSession) badState(op string) string {
	s.log.DPanic("milter stage called in bad state", zap.String("op", op), zap.Stringer("state", s.state))
	return s.stickyReply()
}

// Connect opens a new filter connection, negotiates and reports the SMTP
// client. port may be empty; a malformed port is sent as 0.
//
// The filter closes its end when the SMTP client goes away, so there is a
// fresh connection for every SMTP connection.
func (s *ClientSession) Connect(name, addr, port string, family ProtoFamily, macros Macros) string {
	if s.conn != nil {
		s.log.Debug("closing stale filter connection", zap.Stringer("state", s.state))
		_ = s.Close()
	}
	c := s.client
	if c.setupErr != nil {
		return s.fail(c.setupErr)
	}
	if err := s.dial(); err != nil {
		return s.fail(commErrorf("connect", "connect to milter service %s: %w", c.endpoint, err))
	}
	if reply, ok := s.negotiate(); !ok {
		return reply
	}

	s.log.Debug("connect", zap.String("client_name", name), zap.String("client_addr", addr))
	s.state = StateEnvelope
	fields := []wire.Field{wire.String(name)}
	switch family {
	case FamilyInet, FamilyInet6:
		fields = append(fields, wire.Byte(byte(family)), wire.Uint16(s.parsePort(port)), wire.String(addr))
	case FamilyUnix:
		fields = append(fields, wire.Byte(byte(family)), wire.Uint16(0), wire.String(addr))
	default:
		fields = append(fields, wire.Byte(byte(FamilyUnknown)))
	}
	return s.send(event{code: wire.CodeConn, skip: OptNoConnect, macros: macros, fields: fields})
}

func (s *ClientSession) parsePort(port string) uint16 {
	for i := 0; i < len(port); i++ {
		if !isDigit(port[i]) {
			s.log.Warn("bad client port number", zap.String("port", port))
			return 0
		}
	}
	if port == "" {
		return 0
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		s.log.Warn("bad client port number", zap.String("port", port))
		return 0
	}
	return uint16(n)
}

// Helo reports the HELO or EHLO hostname.
func (s *ClientSession) Helo(name string, macros Macros) string {
	if s.state.connectionDone() {
		return s.stickyReply()
	}
	switch s.state {
	case StateEnvelope, StateAcceptMessage:
		// With HELO after MAIL an Abort comes next.
		return s.send(event{code: wire.CodeHelo, skip: OptNoHelo, macros: macros,
			fields: []wire.Field{wire.String(name)}})
	}
	return s.badState("Helo")
}

// Mail reports MAIL FROM. args[0] is the sender, the rest are ESMTP
// parameters.
func (s *ClientSession) Mail(args []string, macros Macros) string {
	if s.state.connectionDone() {
		return s.stickyReply()
	}
	switch s.state {
	case StateAcceptMessage:
		// A new message in the same connection.
		s.state = StateEnvelope
		fallthrough
	case StateEnvelope:
		s.log.Debug("mail", zap.Strings("args", args))
		return s.send(event{code: wire.CodeMail, skip: OptNoMailFrom, macros: macros,
			fields: []wire.Field{wire.Strings(args)}})
	}
	return s.badState("Mail")
}

// Rcpt reports RCPT TO. args[0] is the recipient, the rest are ESMTP
// parameters.
func (s *ClientSession) Rcpt(args []string, macros Macros) string {
	switch s.state {
	case StateError, StateAcceptConnection, StateRejectConnection, StateAcceptMessage:
		return s.stickyReply()
	case StateEnvelope:
		s.log.Debug("rcpt", zap.Strings("args", args))
		return s.send(event{code: wire.CodeRcpt, skip: OptNoRcptTo, macros: macros,
			fields: []wire.Field{wire.Strings(args)}})
	}
	return s.badState("Rcpt")
}

// Data reports the DATA command.
func (s *ClientSession) Data(macros Macros) string {
	switch s.state {
	case StateError, StateAcceptConnection, StateRejectConnection, StateAcceptMessage:
		return s.stickyReply()
	case StateEnvelope:
		return s.send(event{code: wire.CodeData, skip: OptNoData, macros: macros})
	}
	return s.badState("Data")
}

// Unknown reports an SMTP command the MTA does not implement.
func (s *ClientSession) Unknown(command string, macros Macros) string {
	switch s.state {
	case StateError, StateAcceptConnection, StateRejectConnection, StateAcceptMessage:
		return s.stickyReply()
	case StateEnvelope:
		return s.send(event{code: wire.CodeUnknown, skip: OptNoUnknown, macros: macros,
			fields: []wire.Field{wire.String(command)}})
	}
	return s.badState("Unknown")
}

// Other returns the verdict for SMTP commands the filter never sees.
func (s *ClientSession) Other() string {
	return s.stickyReply()
}

// Abort tells the filter that the current message is gone (RSET, or a
// failed transaction). No reply is read.
func (s *ClientSession) Abort() {
	switch s.state {
	case StateClosed, StateReady:
		return
	case StateError, StateAcceptConnection, StateRejectConnection:
		s.log.Debug("skip abort")
		return
	case StateEnvelope, StateMessage, StateAcceptMessage:
		if err := s.sendCommand(wire.CodeAbort); err != nil {
			s.fail(err)
		}
		if s.state != StateError {
			s.state = StateEnvelope
		}
		return
	}
	s.badState("Abort")
}

// Disconnect says goodbye to the filter at the end of the SMTP connection
// and closes the filter connection.
func (s *ClientSession) Disconnect() {
	switch s.state {
	case StateClosed, StateReady:
		return
	case StateEnvelope, StateMessage, StateAcceptMessage:
		s.log.Debug("quit")
		if err := s.sendCommand(wire.CodeQuit); err != nil {
			s.log.Warn("quit failed", zap.Error(err))
		}
	default:
		s.log.Debug("skip quit", zap.Stringer("state", s.state))
	}
	_ = s.Close()
	s.state = StateClosed
	s.clearReply()
}
