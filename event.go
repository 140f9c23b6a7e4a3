package milter

import (
	"go.uber.org/zap"

	"github.com/emersion/go-mtamilter/internal/wire"
)

// event is one MTA event on its way to the filter.
type event struct {
	code wire.Code
	// skip is the SMFIP_NO* bit the filter sets to opt out of this event.
	// Zero for events that can't be skipped (EOB).
	skip OptProtocol
	// noReply means the filter won't answer this event.
	noReply bool
	macros  Macros
	fields  []wire.Field
}

// send reports ev to the filter and returns the verdict.
func (s *ClientSession) send(ev event) string {
	op := ev.code.String()
	if s.conn == nil || s.reply != nil {
		s.log.Warn("attempt to send event after error", zap.String("event", op))
		return s.stickyReply()
	}

	if ev.skip&s.npMask != 0 {
		s.log.Debug("skipping non-protocol event", zap.String("event", op))
		return s.stickyReply()
	}

	// Macros go out even when the event itself is skipped. They share one
	// flush with the event.
	var frames [][]byte
	if len(ev.macros) > 0 {
		s.log.Debug("sending macros", zap.String("event", op), zap.Int("count", len(ev.macros)))
		frames = append(frames, wire.Encode(byte(wire.CodeMacro),
			wire.Byte(byte(ev.code)),
			wire.Strings(ev.macros.strings())))
	}

	if ev.skip&s.events != 0 {
		s.log.Debug("skipping event", zap.String("event", op))
		if len(frames) > 0 {
			if err := s.writeFrames(frames...); err != nil {
				return s.fail(commErrorf(op, "macro write: %w", err))
			}
		}
		return s.stickyReply()
	}

	frames = append(frames, wire.Encode(byte(ev.code), ev.fields...))
	if err := s.writeFrames(frames...); err != nil {
		return s.fail(commErrorf(op, "write: %w", err))
	}

	if ev.noReply {
		s.log.Debug("skipping reply", zap.String("event", op))
		return s.stickyReply()
	}
	return s.readReplies(ev.code)
}

// sendCommand writes a command that has no payload and gets no reply.
func (s *ClientSession) sendCommand(code wire.Code) *Error {
	if err := s.writeFrames(wire.Encode(byte(code))); err != nil {
		return commErrorf(code.String(), "write: %w", err)
	}
	return nil
}
