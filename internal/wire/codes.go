package wire

// Code is a command sent from the MTA to the filter.
type Code byte

const (
	CodeAbort   Code = 'A' // SMFIC_ABORT
	CodeBody    Code = 'B' // SMFIC_BODY
	CodeConn    Code = 'C' // SMFIC_CONNECT
	CodeMacro   Code = 'D' // SMFIC_MACRO
	CodeEOB     Code = 'E' // SMFIC_BODYEOB
	CodeHelo    Code = 'H' // SMFIC_HELO
	CodeHeader  Code = 'L' // SMFIC_HEADER
	CodeMail    Code = 'M' // SMFIC_MAIL
	CodeEOH     Code = 'N' // SMFIC_EOH
	CodeOptNeg  Code = 'O' // SMFIC_OPTNEG
	CodeQuit    Code = 'Q' // SMFIC_QUIT
	CodeRcpt    Code = 'R' // SMFIC_RCPT
	CodeData    Code = 'T' // SMFIC_DATA
	CodeUnknown Code = 'U' // SMFIC_UNKNOWN
)

var codeNames = map[Code]string{
	CodeAbort:   "SMFIC_ABORT",
	CodeBody:    "SMFIC_BODY",
	CodeConn:    "SMFIC_CONNECT",
	CodeMacro:   "SMFIC_MACRO",
	CodeEOB:     "SMFIC_BODYEOB",
	CodeHelo:    "SMFIC_HELO",
	CodeHeader:  "SMFIC_HEADER",
	CodeMail:    "SMFIC_MAIL",
	CodeEOH:     "SMFIC_EOH",
	CodeOptNeg:  "SMFIC_OPTNEG",
	CodeQuit:    "SMFIC_QUIT",
	CodeRcpt:    "SMFIC_RCPT",
	CodeData:    "SMFIC_DATA",
	CodeUnknown: "SMFIC_UNKNOWN",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "(unknown MTA event)"
}

// Reply is a command sent from the filter to the MTA.
type Reply byte

const (
	ReplyAddRcpt    Reply = '+' // SMFIR_ADDRCPT
	ReplyDelRcpt    Reply = '-' // SMFIR_DELRCPT
	ReplyAccept     Reply = 'a' // SMFIR_ACCEPT
	ReplyReplBody   Reply = 'b' // SMFIR_REPLBODY
	ReplyContinue   Reply = 'c' // SMFIR_CONTINUE
	ReplyDiscard    Reply = 'd' // SMFIR_DISCARD
	ReplyConnFail   Reply = 'f' // SMFIR_CONN_FAIL
	ReplyChgHeader  Reply = 'm' // SMFIR_CHGHEADER
	ReplyProgress   Reply = 'p' // SMFIR_PROGRESS
	ReplyReject     Reply = 'r' // SMFIR_REJECT
	ReplyTempFail   Reply = 't' // SMFIR_TEMPFAIL
	ReplyShutdown   Reply = '4' // SMFIR_SHUTDOWN
	ReplyAddHeader  Reply = 'h' // SMFIR_ADDHEADER
	ReplyInsHeader  Reply = 'i' // SMFIR_INSHEADER
	ReplyReplyCode  Reply = 'y' // SMFIR_REPLYCODE
	ReplyQuarantine Reply = 'q' // SMFIR_QUARANTINE
	ReplyOptNeg     Reply = 'O' // SMFIC_OPTNEG, echoed by the filter
)

var replyNames = map[Reply]string{
	ReplyAddRcpt:    "SMFIR_ADDRCPT",
	ReplyDelRcpt:    "SMFIR_DELRCPT",
	ReplyAccept:     "SMFIR_ACCEPT",
	ReplyReplBody:   "SMFIR_REPLBODY",
	ReplyContinue:   "SMFIR_CONTINUE",
	ReplyDiscard:    "SMFIR_DISCARD",
	ReplyConnFail:   "SMFIR_CONN_FAIL",
	ReplyChgHeader:  "SMFIR_CHGHEADER",
	ReplyProgress:   "SMFIR_PROGRESS",
	ReplyReject:     "SMFIR_REJECT",
	ReplyTempFail:   "SMFIR_TEMPFAIL",
	ReplyShutdown:   "SMFIR_SHUTDOWN",
	ReplyAddHeader:  "SMFIR_ADDHEADER",
	ReplyInsHeader:  "SMFIR_INSHEADER",
	ReplyReplyCode:  "SMFIR_REPLYCODE",
	ReplyQuarantine: "SMFIR_QUARANTINE",
	ReplyOptNeg:     "SMFIC_OPTNEG",
}

func (r Reply) String() string {
	if name, ok := replyNames[r]; ok {
		return name
	}
	return "(unknown filter reply)"
}

const (
	// ChunkSize is the largest body chunk sent in one SMFIC_BODY frame.
	ChunkSize = 65535

	// MaxDataSize bounds the declared length of any frame we read.
	MaxDataSize = 2 * ChunkSize
)
