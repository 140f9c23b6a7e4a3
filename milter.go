// Package milter implements the MTA side of the Sendmail 8 milter protocol:
// it reports the stages of an SMTP transaction to an external mail filter
// and turns the filter's replies into verdicts and queue file edits.
package milter

// Verdicts that are not SMTP replies.
const (
	// ReplyDiscard means accept the message and silently drop it.
	ReplyDiscard = "D"
	// ReplyQuarantine means put the message on hold.
	ReplyQuarantine = "H"
	// ReplyShutdown means the filter is going away; stop talking to it
	// for this connection.
	ReplyShutdown = "S"
)

const (
	replyReject        = "550 5.7.1 Command rejected"
	replyTempFail      = "451 4.7.1 Service unavailable - try again later"
	replyConnFail      = "421 4.7.0 Server closing connection"
	replyConfigProblem = "451 4.3.5 Server configuration problem - try again later"
	replyQueueWrite    = "450 4.3.0 Queue file write error"
)

// ProtoFamily is the address family of the SMTP client.
type ProtoFamily byte

const (
	FamilyUnknown ProtoFamily = 'U' // SMFIA_UNKNOWN
	FamilyUnix    ProtoFamily = 'L' // SMFIA_UNIX
	FamilyInet    ProtoFamily = '4' // SMFIA_INET
	FamilyInet6   ProtoFamily = '6' // SMFIA_INET6
)

// Macro is one macro definition sent along with an event.
type Macro struct {
	Name  string
	Value string
}

// Macros is an ordered list of macro definitions, e.g. {{"j", "mx.example.com"}}.
type Macros []Macro

func (m Macros) strings() []string {
	out := make([]string, 0, 2*len(m))
	for _, kv := range m {
		out = append(out, kv.Name, kv.Value)
	}
	return out
}
