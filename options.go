package milter

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OptAction is a bit mask of the message edits a filter may request.
type OptAction uint32

const (
	OptAddHeader    OptAction = 1 << 0 // SMFIF_ADDHDRS
	OptChangeBody   OptAction = 1 << 1 // SMFIF_CHGBODY
	OptAddRcpt      OptAction = 1 << 2 // SMFIF_ADDRCPT
	OptRemoveRcpt   OptAction = 1 << 3 // SMFIF_DELRCPT
	OptChangeHeader OptAction = 1 << 4 // SMFIF_CHGHDRS
	OptQuarantine   OptAction = 1 << 5 // SMFIF_QUARANTINE

	// AllActions is every edit this client knows how to forward.
	AllActions = OptAddHeader | OptChangeBody | OptAddRcpt | OptRemoveRcpt |
		OptChangeHeader | OptQuarantine
)

// OptProtocol is a bit mask of events a filter does not want to receive,
// plus the no-header-reply extension.
type OptProtocol uint32

const (
	OptNoConnect     OptProtocol = 1 << 0 // SMFIP_NOCONNECT
	OptNoHelo        OptProtocol = 1 << 1 // SMFIP_NOHELO
	OptNoMailFrom    OptProtocol = 1 << 2 // SMFIP_NOMAIL
	OptNoRcptTo      OptProtocol = 1 << 3 // SMFIP_NORCPT
	OptNoBody        OptProtocol = 1 << 4 // SMFIP_NOBODY
	OptNoHeaders     OptProtocol = 1 << 5 // SMFIP_NOHDRS
	OptNoEOH         OptProtocol = 1 << 6 // SMFIP_NOEOH
	OptNoHeaderReply OptProtocol = 1 << 7 // SMFIP_NOHREPL
	OptNoUnknown     OptProtocol = 1 << 8 // SMFIP_NOUNKNOWN
	OptNoData        OptProtocol = 1 << 9 // SMFIP_NODATA
)

// Events defined by every protocol version.
const protoMaskV2 = OptNoConnect | OptNoHelo | OptNoMailFrom | OptNoRcptTo |
	OptNoBody | OptNoHeaders | OptNoEOH

var protocolEventMasks = map[string]OptProtocol{
	"2":               protoMaskV2,
	"3":               protoMaskV2 | OptNoUnknown,
	"4":               protoMaskV2 | OptNoUnknown | OptNoData,
	"no_header_reply": OptNoHeaderReply,
}

var protocolVersions = map[string]uint32{
	"2":               2,
	"3":               3,
	"4":               4,
	"no_header_reply": 0,
}

// MaxProtocolVersion is the highest Milter protocol version spoken here.
const MaxProtocolVersion = 4

// parseProtocol turns a protocol setting such as "4 no_header_reply" into
// the version we announce and the events we offer. Exactly one version is
// required.
func parseProtocol(protocol string) (version uint32, events OptProtocol, err error) {
	tokens := strings.FieldsFunc(protocol, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\r' || r == '\n'
	})
	for _, name := range tokens {
		mask, ok := protocolEventMasks[name]
		vers := protocolVersions[name]
		if !ok || (vers != 0 && version != 0) {
			return 0, 0, fmt.Errorf("bad protocol information: %s", name)
		}
		if vers != 0 {
			version = vers
		}
		events |= mask
	}
	if events == 0 || version == 0 {
		return 0, 0, fmt.Errorf("no protocol version information in %q", protocol)
	}
	return version, events, nil
}

// Default actions applied when a filter cannot be used.
const (
	DefaultAccept   = "accept"
	DefaultReject   = "reject"
	DefaultTempFail = "tempfail"
)

// ClientOptions configures how a Client talks to one filter.
type ClientOptions struct {
	// Timeouts for establishing the connection, for one command/reply
	// exchange and for streaming a whole message.
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	MessageTimeout time.Duration

	// Protocol holds the protocol version and extensions, e.g. "4" or
	// "4 no_header_reply".
	Protocol string

	// DefaultAction is one of "accept", "reject" or "tempfail" and decides
	// the reply when the filter is unavailable.
	DefaultAction string

	// ActionMask lists the edits offered to the filter. Zero is valid: the
	// filter can then only accept or reject.
	ActionMask OptAction

	// DisabledEvents are removed from the events offered to the filter.
	DisabledEvents OptProtocol

	// MaxReplies bounds the replies read for a single event.
	MaxReplies int

	// SkipFirstHeader hides the first message header (normally the MTA's
	// own Received: header) from the filter.
	SkipFirstHeader bool

	// Dialer opens connections. Defaults to a net.Dialer.
	Dialer Dialer

	// Logger receives diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
}

// DefaultClientOptions returns the options used by NewClient.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		ConnectTimeout: 30 * time.Second,
		CommandTimeout: 30 * time.Second,
		MessageTimeout: 300 * time.Second,
		Protocol:       "4",
		DefaultAction:  DefaultTempFail,
		ActionMask:     AllActions,
		MaxReplies:     10000,
	}
}

// withDefaults fills unset fields. ActionMask and DisabledEvents are taken
// as given.
func (o ClientOptions) withDefaults() ClientOptions {
	def := DefaultClientOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = def.CommandTimeout
	}
	if o.MessageTimeout <= 0 {
		o.MessageTimeout = def.MessageTimeout
	}
	if o.Protocol == "" {
		o.Protocol = def.Protocol
	}
	if o.DefaultAction == "" {
		o.DefaultAction = def.DefaultAction
	}
	if o.MaxReplies <= 0 {
		o.MaxReplies = def.MaxReplies
	}
	if o.Dialer == nil {
		o.Dialer = defaultDialer()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
