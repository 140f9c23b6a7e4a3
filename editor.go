package milter

// Editor applies filter edit requests to the queue file of the message
// being filtered. A non-nil error ends forwarding of further edits for the
// current event; its text, normally an SMTP reply such as
// "450 4.3.0 Queue file write error", becomes the event result.
//
// Header indexes are 1-based. For UpdateHeader and DeleteHeader the index
// counts headers of the given name; for InsertHeader it is the position in
// the whole header section.
type Editor interface {
	AddHeader(name, value string) error
	UpdateHeader(index int, name, value string) error
	DeleteHeader(index int, name string) error
	InsertHeader(index int, name, value string) error
	AddRecipient(rcpt string) error
	DeleteRecipient(rcpt string) error

	// Body replacement: StartBody, then BodyLine for every line of the new
	// body (without line terminator), then EndBody. The line is only valid
	// during the call.
	StartBody() error
	BodyLine(line []byte) error
	EndBody() error
}

// discardEditor is used when a session has no editor; edits are dropped.
type discardEditor struct{}

func (discardEditor) AddHeader(string, string) error         { return nil }
func (discardEditor) UpdateHeader(int, string, string) error { return nil }
func (discardEditor) DeleteHeader(int, string) error         { return nil }
func (discardEditor) InsertHeader(int, string, string) error { return nil }
func (discardEditor) AddRecipient(string) error              { return nil }
func (discardEditor) DeleteRecipient(string) error           { return nil }
func (discardEditor) StartBody() error                       { return nil }
func (discardEditor) BodyLine([]byte) error                  { return nil }
func (discardEditor) EndBody() error                         { return nil }
