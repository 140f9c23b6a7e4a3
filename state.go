package milter

// State is the position of a ClientSession in the filter conversation.
type State int

const (
	// StateClosed means there is no connection to the filter.
	StateClosed State = iota
	// StateReady means connected and negotiated, waiting for the connect event.
	StateReady
	// StateEnvelope means inside the SMTP envelope, before message content.
	StateEnvelope
	// StateMessage means the message content is being streamed.
	StateMessage
	// StateAcceptConnection means the filter accepted the whole connection.
	StateAcceptConnection
	// StateAcceptMessage means the filter accepted the current message.
	StateAcceptMessage
	// StateRejectConnection means the filter rejected the whole connection.
	StateRejectConnection
	// StateError means the filter is unusable until the next connection.
	StateError
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateReady:
		return "ready"
	case StateEnvelope:
		return "envelope"
	case StateMessage:
		return "message"
	case StateAcceptConnection:
		return "accept-connection"
	case StateAcceptMessage:
		return "accept-message"
	case StateRejectConnection:
		return "reject-connection"
	case StateError:
		return "error"
	}
	return "unknown"
}

// connectionDone reports states in which no further events are sent for
// the rest of the SMTP connection.
func (s State) connectionDone() bool {
	return s == StateError || s == StateAcceptConnection || s == StateRejectConnection
}
