package milter

import (
	"go.uber.org/zap"

	"github.com/emersion/go-mtamilter/internal/wire"
)

// negotiate exchanges OPTNEG messages with the filter on a fresh
// connection. On success the session is StateReady with no sticky reply;
// otherwise the session failed and the default reply is returned.
func (s *ClientSession) negotiate() (string, bool) {
	const op = "negotiate"
	c := s.client

	// Events we never announced are not part of the protocol we speak.
	// NOHREPL is something the filter won't send, so it must not end up
	// in the mask.
	s.npMask = ^(c.events | OptNoHeaderReply)

	s.log.Debug("negotiating",
		zap.Uint32("version", c.version),
		zap.Uint32("actions", uint32(c.opts.ActionMask)),
		zap.Uint32("events", uint32(c.events)))

	frame := wire.Encode(byte(wire.CodeOptNeg),
		wire.Uint32(c.version),
		wire.Uint32(uint32(c.opts.ActionMask)),
		wire.Uint32(uint32(c.events)))
	if err := s.writeFrames(frame); err != nil {
		return s.fail(commErrorf(op, "optneg write: %w", err)), false
	}

	reply, p, err := s.readHeader()
	if err != nil {
		return s.fail(commErrorf(op, "optneg read: %w", err)), false
	}
	if reply != wire.ReplyOptNeg {
		return s.fail(commErrorf(op, "unexpected reply %q in initial handshake", byte(reply))), false
	}
	fields, err := wire.ReadFields(p, wire.KindUint32, wire.KindUint32, wire.KindUint32)
	if err != nil {
		return s.fail(commErrorf(op, "optneg read: %w", err)), false
	}
	version := fields[0].U32
	actions := OptAction(fields[1].U32)
	events := OptProtocol(fields[2].U32)

	if version > c.version {
		return s.fail(confErrorf(op, "protocol version %d conflict with MTA protocol version %d", version, c.version)), false
	}
	if actions&c.opts.ActionMask != actions {
		return s.fail(confErrorf(op, "request mask 0x%x conflict with MTA request mask 0x%x", uint32(actions), uint32(c.opts.ActionMask))), false
	}
	if events&c.events != events {
		s.log.Debug("filter event mask includes features not offered",
			zap.Uint32("filter_events", uint32(events)),
			zap.Uint32("offered_events", uint32(c.events)))
	}

	s.version = version
	s.actions = actions
	s.events = events
	s.state = StateReady
	s.err = nil
	s.clearReply()
	s.log.Debug("negotiated",
		zap.Uint32("version", version),
		zap.Uint32("actions", uint32(actions)),
		zap.Uint32("events", uint32(events)))
	return "", true
}
