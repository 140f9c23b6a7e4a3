package milter

import (
	"io"

	"go.uber.org/zap"

	"github.com/emersion/go-mtamilter/internal/wire"
)

// Message sends the message content to the filter: headers, end of
// headers, body chunks and end of body. macros go along with every event.
//
// The session uses the message timeout while the content is streamed.
func (s *ClientSession) Message(src MessageSource, macros Macros) string {
	switch s.state {
	case StateError, StateAcceptConnection, StateRejectConnection, StateAcceptMessage:
		s.log.Debug("skip message")
		return s.stickyReply()
	case StateEnvelope:
	default:
		return s.badState("Message")
	}

	s.state = StateMessage
	s.timeout = s.client.opts.MessageTimeout
	m := messageStage{s: s, macros: macros}
	resp := m.run(src)
	s.timeout = s.client.opts.CommandTimeout
	if s.state == StateMessage || s.state == StateAcceptMessage {
		s.state = StateEnvelope
	}
	return resp
}

type messageStage struct {
	s      *ClientSession
	macros Macros
	resp   string
}

// done reports whether the filter reached a verdict for the message.
func (m *messageStage) done() bool {
	return m.s.state != StateMessage || m.resp != ""
}

func (m *messageStage) sourceError(err error) string {
	m.s.log.Warn("error reading message", zap.Error(err))
	return replyQueueWrite
}

func (m *messageStage) run(src MessageSource) string {
	s := m.s
	// Callbacks for events the filter opted out of are not installed at
	// all, so they never send macros either.
	wantHeaders := s.events&OptNoHeaders == 0
	wantEOH := s.events&OptNoEOH == 0
	wantBody := s.events&OptNoBody == 0
	noReply := s.events&OptNoHeaderReply != 0

	skipFirst := s.client.opts.SkipFirstHeader
	for {
		name, value, err := src.NextHeader()
		if err == io.EOF {
			break
		} else if err != nil {
			return m.sourceError(err)
		}
		if !wantHeaders {
			continue
		}
		if skipFirst {
			skipFirst = false
			continue
		}
		m.resp = s.send(event{
			code:    wire.CodeHeader,
			skip:    OptNoHeaders,
			noReply: noReply,
			macros:  m.macros,
			fields:  []wire.Field{wire.String(name), wire.String(value)},
		})
		if m.done() {
			return m.resp
		}
	}

	if wantEOH {
		m.resp = s.send(event{code: wire.CodeEOH, skip: OptNoEOH, macros: m.macros})
		if m.done() {
			return m.resp
		}
	}

	var body *chunker
	if wantBody {
		body = newChunker(func(chunk []byte) bool {
			m.resp = s.send(event{
				code:   wire.CodeBody,
				skip:   OptNoBody,
				macros: m.macros,
				fields: []wire.Field{wire.Buffer(chunk)},
			})
			return m.done()
		})
	}
	for {
		line, err := src.NextBodyLine()
		if err == io.EOF {
			break
		} else if err != nil {
			return m.sourceError(err)
		}
		if body != nil && body.Line(line) {
			return m.resp
		}
	}
	if body != nil && body.Flush() {
		return m.resp
	}

	// End of body is part of every protocol version and can't be skipped.
	m.resp = s.send(event{code: wire.CodeEOB, macros: m.macros})
	return m.resp
}
