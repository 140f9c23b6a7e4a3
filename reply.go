package milter

import (
	"bytes"
	"strings"

	"go.uber.org/zap"

	"github.com/emersion/go-mtamilter/internal/wire"
)

// Whole-connection verdicts are only possible after these events.
func isConnectEvent(code wire.Code) bool {
	return code == wire.CodeConn || code == wire.CodeHelo
}

// Edit requests are only valid while the message content is sent.
func isContentEvent(code wire.Code) bool {
	switch code {
	case wire.CodeHeader, wire.CodeEOH, wire.CodeBody, wire.CodeEOB:
		return true
	}
	return false
}

// replyLoop reads the replies to one event.
type replyLoop struct {
	s     *ClientSession
	event wire.Code
	op    string

	// editErr is the first failed edit. Later edits are read but not
	// applied.
	editErr     error
	dropLogged  bool
	replacing   bool
	bodyLocked  bool
	replaceLine []byte
}

func (s *ClientSession) readReplies(code wire.Code) string {
	l := &replyLoop{s: s, event: code, op: code.String()}
	result := l.run()

	// A failed queue file update overrides the verdict unless the message
	// is discarded or tempfailed, or the filter went away.
	if l.editErr != nil && (result == "" || !strings.ContainsRune("DS4", rune(result[0]))) {
		result = l.editErr.Error()
	}
	return result
}

func (l *replyLoop) run() string {
	s := l.s
	limit := s.client.opts.MaxReplies
	for i := 0; i < limit; i++ {
		reply, p, err := s.readHeader()
		if err != nil {
			return s.fail(commErrorf(l.op, "read reply: %w", err))
		}
		s.log.Debug("reply", zap.String("event", l.op), zap.Stringer("reply", reply), zap.Int("size", p.Len()))

		// Body replacement ends with the first reply of another kind.
		if l.replacing && reply != wire.ReplyReplBody {
			l.endBody()
		}

		switch reply {
		case wire.ReplyProgress:
			if p.Len() != 0 {
				return l.trailingData(reply, p)
			}
			continue

		case wire.ReplyContinue:
			if p.Len() != 0 {
				return l.trailingData(reply, p)
			}
			return s.stickyReply()

		case wire.ReplyAccept:
			if p.Len() != 0 {
				return l.trailingData(reply, p)
			}
			if isConnectEvent(l.event) {
				_ = s.Close()
				s.state = StateAcceptConnection
			} else {
				s.state = StateAcceptMessage
			}
			return s.stickyReply()

		case wire.ReplyDiscard:
			if p.Len() != 0 {
				return l.trailingData(reply, p)
			}
			if isConnectEvent(l.event) {
				s.log.Warn("DISCARD action is not allowed for connect or helo")
				return s.stickyReply()
			}
			s.state = StateAcceptMessage
			return ReplyDiscard

		case wire.ReplyReject:
			if p.Len() != 0 {
				return l.trailingData(reply, p)
			}
			return l.reject(replyReject)

		case wire.ReplyTempFail:
			if p.Len() != 0 {
				return l.trailingData(reply, p)
			}
			return l.reject(replyTempFail)

		case wire.ReplyShutdown:
			if p.Len() != 0 {
				return l.trailingData(reply, p)
			}
			return l.closeConnection(ReplyShutdown)

		case wire.ReplyConnFail:
			if p.Len() != 0 {
				return l.trailingData(reply, p)
			}
			return l.closeConnection(replyConnFail)

		case wire.ReplyReplyCode:
			buf, err := p.ReadBuffer()
			if err != nil {
				return s.fail(commErrorf(l.op, "reply code: %w", err))
			}
			text, ok := parseReplyCode(buf)
			if !ok {
				return s.fail(confErrorf(l.op, "malformed reply: %q", text))
			}
			return l.reject(text)

		case wire.ReplyQuarantine:
			buf, err := p.ReadBuffer()
			if err != nil {
				return s.fail(commErrorf(l.op, "quarantine: %w", err))
			}
			s.log.Info("quarantine requested", zap.String("reason", wire.ReadCString(buf)))
			return ReplyQuarantine
		}

		if !isContentEvent(l.event) {
			return s.fail(commErrorf(l.op, "unexpected filter response %v after event %s", reply, l.op))
		}
		if resp, stop := l.edit(reply, p); stop {
			return resp
		}
	}
	return s.fail(commErrorf(l.op, "no verdict after %d replies", limit))
}

// reject handles a negative verdict. After connect or helo it holds for
// the rest of the connection.
func (l *replyLoop) reject(reply string) string {
	if isConnectEvent(l.event) {
		return l.closeConnection(reply)
	}
	return reply
}

func (l *replyLoop) closeConnection(reply string) string {
	s := l.s
	_ = s.Close()
	s.state = StateRejectConnection
	return s.setReply(reply)
}

func (l *replyLoop) trailingData(reply wire.Reply, p *wire.Payload) string {
	return l.s.fail(commErrorf(l.op, "reply %v was followed by %d data bytes", reply, p.Len()))
}

// edit reads one edit request and hands it to the editor. stop is true
// when the loop must end with resp.
func (l *replyLoop) edit(reply wire.Reply, p *wire.Payload) (resp string, stop bool) {
	s := l.s
	switch reply {
	case wire.ReplyChgHeader:
		f, err := wire.ReadFields(p, wire.KindUint32, wire.KindString, wire.KindString)
		if err != nil {
			return s.fail(commErrorf(l.op, "change header: %w", err)), true
		}
		if l.skipEdit(reply) {
			return "", false
		}
		// Sendmail 8 compatibility.
		index := int(int32(f[0].U32))
		if index == 0 {
			index = 1
		}
		if index < 1 {
			return s.fail(confErrorf(l.op, "bad change header index: %d", index)), true
		}
		name, value := f[1].Str, f[2].Str
		if name == "" {
			return s.fail(confErrorf(l.op, "null change header name")), true
		}
		if value != "" {
			l.apply(s.editor.UpdateHeader(index, name, value))
		} else {
			l.apply(s.editor.DeleteHeader(index, name))
		}

	case wire.ReplyAddHeader:
		f, err := wire.ReadFields(p, wire.KindString, wire.KindString)
		if err != nil {
			return s.fail(commErrorf(l.op, "add header: %w", err)), true
		}
		if l.skipEdit(reply) {
			return "", false
		}
		l.apply(s.editor.AddHeader(f[0].Str, f[1].Str))

	case wire.ReplyInsHeader:
		f, err := wire.ReadFields(p, wire.KindUint32, wire.KindString, wire.KindString)
		if err != nil {
			return s.fail(commErrorf(l.op, "insert header: %w", err)), true
		}
		if l.skipEdit(reply) {
			return "", false
		}
		// Index 0 is the top-most header; the editor counts from 1.
		index := int(int32(f[0].U32)) + 1
		if index < 1 {
			return s.fail(confErrorf(l.op, "bad insert header index: %d", index-1)), true
		}
		l.apply(s.editor.InsertHeader(index, f[1].Str, f[2].Str))

	case wire.ReplyAddRcpt:
		f, err := wire.ReadFields(p, wire.KindString)
		if err != nil {
			return s.fail(commErrorf(l.op, "add recipient: %w", err)), true
		}
		if l.skipEdit(reply) {
			return "", false
		}
		l.apply(s.editor.AddRecipient(f[0].Str))

	case wire.ReplyDelRcpt:
		f, err := wire.ReadFields(p, wire.KindString)
		if err != nil {
			return s.fail(commErrorf(l.op, "delete recipient: %w", err)), true
		}
		if l.skipEdit(reply) {
			return "", false
		}
		l.apply(s.editor.DeleteRecipient(f[0].Str))

	case wire.ReplyReplBody:
		if l.bodyLocked {
			return s.fail(confErrorf(l.op, "body replacement requests can't currently be mixed with other requests")), true
		}
		data, err := p.ReadBuffer()
		if err != nil {
			return s.fail(commErrorf(l.op, "replace body: %w", err)), true
		}
		if l.skipEdit(reply) {
			return "", false
		}
		l.replaceBody(data)

	default:
		return s.fail(commErrorf(l.op, "unexpected filter response %v after event %s", reply, l.op)), true
	}
	return "", false
}

// skipEdit reports whether an edit that was read must not be applied.
func (l *replyLoop) skipEdit(reply wire.Reply) bool {
	if l.editErr != nil {
		return true
	}
	if l.s.dropEdits && !l.dropLogged {
		l.s.log.Warn("no queue file editor, dropping edit requests", zap.Stringer("reply", reply))
		l.dropLogged = true
	}
	return false
}

func (l *replyLoop) apply(err error) {
	if err != nil && l.editErr == nil {
		l.s.log.Warn("queue file edit failed", zap.String("event", l.op), zap.Error(err))
		l.editErr = err
	}
}

// replaceBody splits replacement text from the on-the-wire CRLF format
// into lines. A line may continue in the next REPLBODY reply.
func (l *replyLoop) replaceBody(data []byte) {
	editor := l.s.editor
	if !l.replacing {
		l.replacing = true
		l.replaceLine = l.replaceLine[:0]
		l.apply(editor.StartBody())
	}
	for _, ch := range data {
		if l.editErr != nil {
			return
		}
		if ch != '\n' {
			l.replaceLine = append(l.replaceLine, ch)
			continue
		}
		l.apply(editor.BodyLine(bytes.TrimSuffix(l.replaceLine, []byte{'\r'})))
		l.replaceLine = l.replaceLine[:0]
	}
}

// endBody finishes body replacement. Further REPLBODY replies to the same
// event are refused.
func (l *replyLoop) endBody() {
	editor := l.s.editor
	// The last line may lack CRLF.
	if l.editErr == nil && len(l.replaceLine) > 0 {
		l.apply(editor.BodyLine(l.replaceLine))
	}
	if l.editErr == nil {
		l.apply(editor.EndBody())
	}
	l.replacing = false
	l.bodyLocked = true
	l.replaceLine = nil
}

// parseReplyCode validates a "ddd d.d.d text" reply, possibly multi-line,
// and undoes Sendmail's '%' doubling: "%%" becomes "%" and a lone '%' is
// removed.
func parseReplyCode(buf []byte) (string, bool) {
	buf = trimNUL(buf)
	if len(buf) < 5 ||
		(buf[0] != '4' && buf[0] != '5') ||
		!isDigit(buf[1]) || !isDigit(buf[2]) ||
		(buf[3] != ' ' && buf[3] != '-') ||
		buf[4] != buf[0] {
		return string(buf), false
	}
	if bytes.IndexByte(buf, '%') < 0 {
		return string(buf), true
	}
	out := make([]byte, 0, len(buf))
	for i := 0; i < len(buf); i++ {
		if buf[i] == '%' {
			i++
			if i == len(buf) {
				break
			}
		}
		out = append(out, buf[i])
	}
	return string(out), true
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// trimNUL cuts b at its first NUL byte.
func trimNUL(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}
