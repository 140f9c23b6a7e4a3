package main

import (
	"fmt"
	"io"

	"github.com/emersion/go-mtamilter"
)

// printEditor prints the edits requested by the filter instead of applying
// them to a queue file.
type printEditor struct {
	w io.Writer
}

func (e printEditor) AddHeader(name, value string) error {
	fmt.Fprintf(e.w, "add header: name %s, value %s\n", name, value)
	return nil
}

func (e printEditor) UpdateHeader(index int, name, value string) error {
	fmt.Fprintf(e.w, "change header: at %d, name %s, value %s\n", index, name, value)
	return nil
}

func (e printEditor) DeleteHeader(index int, name string) error {
	fmt.Fprintf(e.w, "delete header: at %d, name %s\n", index, name)
	return nil
}

func (e printEditor) InsertHeader(index int, name, value string) error {
	fmt.Fprintf(e.w, "insert header: at %d, name %s, value %s\n", index, name, value)
	return nil
}

func (e printEditor) AddRecipient(rcpt string) error {
	fmt.Fprintln(e.w, "add rcpt:", rcpt)
	return nil
}

func (e printEditor) DeleteRecipient(rcpt string) error {
	fmt.Fprintln(e.w, "del rcpt:", rcpt)
	return nil
}

func (e printEditor) StartBody() error {
	fmt.Fprintln(e.w, "replace body:")
	return nil
}

func (e printEditor) BodyLine(line []byte) error {
	fmt.Fprintf(e.w, "  %s\n", line)
	return nil
}

func (e printEditor) EndBody() error { return nil }

func printVerdict(w io.Writer, prefix string, s *milter.ClientSession, resp string) {
	switch resp {
	case "":
		switch s.State() {
		case milter.StateAcceptConnection, milter.StateAcceptMessage:
			fmt.Fprintln(w, prefix, "accept")
		case milter.StateError:
			fmt.Fprintln(w, prefix, "failed, default action applies")
		default:
			fmt.Fprintln(w, prefix, "continue")
		}
	case milter.ReplyDiscard:
		fmt.Fprintln(w, prefix, "discard")
	case milter.ReplyQuarantine:
		fmt.Fprintln(w, prefix, "quarantine")
	case milter.ReplyShutdown:
		fmt.Fprintln(w, prefix, "shutdown")
	default:
		fmt.Fprintln(w, prefix, "reply code:", resp)
	}
}

// check replays one SMTP transaction against the filter, reading the
// message from msg. It stops at the first stage with a verdict.
func check(cfg checkConfig, msg io.Reader, out io.Writer) error {
	c := milter.NewClientWithOptions(cfg.Endpoint, cfg.Options)
	s := c.Session(printEditor{w: out})
	defer s.Disconnect()

	type stage struct {
		name string
		run  func() string
	}
	stages := []stage{
		{"CONNECT:", func() string { return s.Connect(cfg.Hostname, cfg.ConnAddr, cfg.Port, cfg.Family, cfg.Macros) }},
		{"HELO:", func() string { return s.Helo(cfg.Helo, nil) }},
		{"MAIL:", func() string { return s.Mail([]string{cfg.From}, nil) }},
	}
	for _, rcpt := range cfg.Rcpt {
		rcpt := rcpt
		stages = append(stages, stage{"RCPT:", func() string { return s.Rcpt([]string{rcpt}, nil) }})
	}
	stages = append(stages,
		stage{"DATA:", func() string { return s.Data(nil) }},
		stage{"EOB:", func() string { return s.Message(milter.NewMessageReader(msg), nil) }},
	)

	for _, st := range stages {
		resp := st.run()
		printVerdict(out, st.name, s, resp)
		if err := s.Err(); err != nil {
			return err
		}
		if resp != "" || !s.Active() {
			return nil
		}
	}
	return nil
}
