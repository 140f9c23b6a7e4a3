package filtertest

import (
	"bytes"

	"github.com/emersion/go-mtamilter/internal/wire"
)

func reply(code wire.Reply, fields ...wire.Field) wire.Frame {
	return wire.Frame{Code: byte(code), Data: wire.AppendFields(nil, fields...)}
}

// OptNeg is the filter's half of the negotiation.
func OptNeg(version, actions, events uint32) wire.Frame {
	return reply(wire.ReplyOptNeg, wire.Uint32(version), wire.Uint32(actions), wire.Uint32(events))
}

func Continue() wire.Frame { return reply(wire.ReplyContinue) }
func Progress() wire.Frame { return reply(wire.ReplyProgress) }
func Accept() wire.Frame   { return reply(wire.ReplyAccept) }
func Discard() wire.Frame  { return reply(wire.ReplyDiscard) }
func Reject() wire.Frame   { return reply(wire.ReplyReject) }
func TempFail() wire.Frame { return reply(wire.ReplyTempFail) }
func Shutdown() wire.Frame { return reply(wire.ReplyShutdown) }
func ConnFail() wire.Frame { return reply(wire.ReplyConnFail) }

// ReplyCode sends a custom SMTP reply such as "554 5.7.1 Go away".
func ReplyCode(text string) wire.Frame {
	return reply(wire.ReplyReplyCode, wire.String(text))
}

// Quarantine a message by giving a reason to hold it
func Quarantine(reason string) wire.Frame {
	return reply(wire.ReplyQuarantine, wire.String(reason))
}

// AddHeader appends a new header to the message.
func AddHeader(name, value string) wire.Frame {
	return reply(wire.ReplyAddHeader, wire.String(name), wire.String(crlfToLF(value)))
}

// ChangeHeader replaces the header at the specified position with a new one.
// The index is per name. An empty value deletes the header.
func ChangeHeader(index uint32, name, value string) wire.Frame {
	return reply(wire.ReplyChgHeader, wire.Uint32(index), wire.String(name), wire.String(crlfToLF(value)))
}

// InsertHeader inserts a header at the specified position, 0 being the
// top of the header section.
func InsertHeader(index uint32, name, value string) wire.Frame {
	return reply(wire.ReplyInsHeader, wire.Uint32(index), wire.String(name), wire.String(crlfToLF(value)))
}

func AddRecipient(rcpt string) wire.Frame {
	return reply(wire.ReplyAddRcpt, wire.String(rcpt))
}

func DeleteRecipient(rcpt string) wire.Frame {
	return reply(wire.ReplyDelRcpt, wire.String(rcpt))
}

// ReplaceBody sends one piece of replacement body in CRLF format.
func ReplaceBody(chunk []byte) wire.Frame {
	return reply(wire.ReplyReplBody, wire.Buffer(chunk))
}

// Decode splits a command payload into fields of the given kinds.
func Decode(f wire.Frame, kinds ...wire.Kind) ([]wire.Field, error) {
	p := wire.NewPayload(bytes.NewReader(f.Data), len(f.Data))
	return wire.ReadFields(p, kinds...)
}

// Filter by command code.
func Only(frames []wire.Frame, code wire.Code) []wire.Frame {
	var out []wire.Frame
	for _, f := range frames {
		if f.Code == byte(code) {
			out = append(out, f)
		}
	}
	return out
}

func crlfToLF(s string) string {
	return string(bytes.ReplaceAll([]byte(s), []byte{'\r', '\n'}, []byte{'\n'}))
}
