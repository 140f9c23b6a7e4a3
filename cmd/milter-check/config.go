package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/emersion/go-mtamilter"
)

// checkConfig is everything one check run needs: where the filter is, how
// to talk to it and the SMTP conversation to replay.
type checkConfig struct {
	Endpoint string
	Options  milter.ClientOptions

	Hostname string
	Family   milter.ProtoFamily
	ConnAddr string
	Port     string
	Helo     string
	From     string
	Rcpt     []string
	Macros   milter.Macros
}

func defaultCheckConfig() checkConfig {
	return checkConfig{
		Options:  milter.DefaultClientOptions(),
		Hostname: "localhost",
		Family:   milter.FamilyInet,
		ConnAddr: "127.0.0.1",
		Port:     "2525",
		Helo:     "localhost",
		From:     "<foxcpp@example.org>",
		Rcpt:     []string{"<foxcpp@example.com>"},
	}
}

type fileConfig struct {
	Endpoint        string            `toml:"endpoint"`
	Protocol        string            `toml:"protocol"`
	DefaultAction   string            `toml:"default_action"`
	ConnectTimeout  string            `toml:"connect_timeout"`
	CommandTimeout  string            `toml:"command_timeout"`
	MessageTimeout  string            `toml:"message_timeout"`
	ActionMask      int64             `toml:"action_mask"`
	DisabledEvents  int64             `toml:"disabled_events"`
	MaxReplies      int               `toml:"max_replies"`
	SkipFirstHeader bool              `toml:"skip_first_header"`
	Hostname        string            `toml:"hostname"`
	Family          string            `toml:"family"`
	ConnAddr        string            `toml:"conn_addr"`
	Port            string            `toml:"port"`
	Helo            string            `toml:"helo"`
	From            string            `toml:"from"`
	Rcpt            []string          `toml:"rcpt"`
	Macros          map[string]string `toml:"macros"`
}

func loadConfig(path string, cfg *checkConfig) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load milter-check config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load milter-check config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("endpoint") {
		cfg.Endpoint = strings.TrimSpace(raw.Endpoint)
	}
	if meta.IsDefined("protocol") {
		cfg.Options.Protocol = raw.Protocol
	}
	if meta.IsDefined("default_action") {
		cfg.Options.DefaultAction = strings.TrimSpace(raw.DefaultAction)
	}

	timeouts := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.Options.ConnectTimeout},
		{"command_timeout", raw.CommandTimeout, &cfg.Options.CommandTimeout},
		{"message_timeout", raw.MessageTimeout, &cfg.Options.MessageTimeout},
	}
	for _, t := range timeouts {
		if !meta.IsDefined(t.key) {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(t.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", t.key, err)
		}
		*t.dst = d
	}

	if meta.IsDefined("action_mask") {
		cfg.Options.ActionMask = milter.OptAction(raw.ActionMask)
	}
	if meta.IsDefined("disabled_events") {
		cfg.Options.DisabledEvents = milter.OptProtocol(raw.DisabledEvents)
	}
	if meta.IsDefined("max_replies") {
		cfg.Options.MaxReplies = raw.MaxReplies
	}
	if meta.IsDefined("skip_first_header") {
		cfg.Options.SkipFirstHeader = raw.SkipFirstHeader
	}

	if meta.IsDefined("hostname") {
		cfg.Hostname = raw.Hostname
	}
	if meta.IsDefined("family") {
		family, err := parseFamily(raw.Family)
		if err != nil {
			return err
		}
		cfg.Family = family
	}
	if meta.IsDefined("conn_addr") {
		cfg.ConnAddr = raw.ConnAddr
	}
	if meta.IsDefined("port") {
		cfg.Port = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("helo") {
		cfg.Helo = raw.Helo
	}
	if meta.IsDefined("from") {
		cfg.From = raw.From
	}
	if meta.IsDefined("rcpt") {
		cfg.Rcpt = raw.Rcpt
	}
	if meta.IsDefined("macros") {
		cfg.Macros = sortedMacros(raw.Macros)
	}
	return nil
}

// TOML tables are unordered; macros are sent sorted by name.
func sortedMacros(m map[string]string) milter.Macros {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	macros := make(milter.Macros, 0, len(names))
	for _, name := range names {
		macros = append(macros, milter.Macro{Name: name, Value: m[name]})
	}
	return macros
}

func parseFamily(s string) (milter.ProtoFamily, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inet", "4":
		return milter.FamilyInet, nil
	case "inet6", "6":
		return milter.FamilyInet6, nil
	case "unix", "local", "l":
		return milter.FamilyUnix, nil
	case "unknown", "u":
		return milter.FamilyUnknown, nil
	}
	return 0, fmt.Errorf("unknown protocol family %q", s)
}
