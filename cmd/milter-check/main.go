package main

import (
	"fmt"
	"os"

	"github.com/emersion/go-mtamilter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logLevelEnv overrides the log level, e.g. "debug" to trace the protocol.
const logLevelEnv = "MILTER_CHECK_LOG_LEVEL"

func newLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if s := os.Getenv(logLevelEnv); s != "" {
		level, err := zapcore.ParseLevel(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", logLevelEnv, err)
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}
	return config.Build()
}

type checkFlags struct {
	config          string
	verbose         bool
	protocol        string
	defaultAction   string
	actions         uint32
	disabledEvents  uint32
	skipFirstHeader bool
	hostname        string
	family          string
	port            string
	connAddr        string
	helo            string
	from            string
	rcpt            []string
}

// apply copies the flags given on the command line over cfg.
func (f *checkFlags) apply(cmd *cobra.Command, cfg *checkConfig) error {
	changed := cmd.Flags().Changed
	if changed("protocol") {
		cfg.Options.Protocol = f.protocol
	}
	if changed("default-action") {
		cfg.Options.DefaultAction = f.defaultAction
	}
	if changed("actions") {
		cfg.Options.ActionMask = milter.OptAction(f.actions)
	}
	if changed("disabled-events") {
		cfg.Options.DisabledEvents = milter.OptProtocol(f.disabledEvents)
	}
	if changed("skip-first-header") {
		cfg.Options.SkipFirstHeader = f.skipFirstHeader
	}
	if changed("hostname") {
		cfg.Hostname = f.hostname
	}
	if changed("family") {
		family, err := parseFamily(f.family)
		if err != nil {
			return err
		}
		cfg.Family = family
	}
	if changed("port") {
		cfg.Port = f.port
	}
	if changed("conn-addr") {
		cfg.ConnAddr = f.connAddr
	}
	if changed("helo") {
		cfg.Helo = f.helo
	}
	if changed("from") {
		cfg.From = f.from
	}
	if changed("rcpt") {
		cfg.Rcpt = f.rcpt
	}
	return nil
}

func newRootCmd() *cobra.Command {
	var f checkFlags
	cmd := &cobra.Command{
		Use:   "milter-check [endpoint] < message.eml",
		Short: "Run one message through a milter filter",
		Long: `milter-check acts as an MTA: it connects to a milter filter, replays a
single SMTP transaction and prints the verdict of every stage along with
the edits the filter asks for. The message is read from standard input.

The endpoint is "inet:host:port" or "unix:/path/to/socket". It may also
come from the configuration file.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := defaultCheckConfig()
			if f.config != "" {
				if err := loadConfig(f.config, &cfg); err != nil {
					return err
				}
			}
			if err := f.apply(cmd, &cfg); err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Endpoint = args[0]
			}
			if cfg.Endpoint == "" {
				return fmt.Errorf("no milter endpoint given")
			}

			logger, err := newLogger(f.verbose)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			cfg.Options.Logger = logger

			return check(cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	defaults := defaultCheckConfig()
	flags := cmd.Flags()
	flags.StringVarP(&f.config, "config", "c", "", "TOML configuration file")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "Enable protocol tracing")
	flags.StringVar(&f.protocol, "protocol", defaults.Options.Protocol, "Protocol version to offer, optionally with \"no_header_reply\"")
	flags.StringVar(&f.defaultAction, "default-action", defaults.Options.DefaultAction, "Verdict when the filter fails: accept, reject or tempfail")
	flags.Uint32Var(&f.actions, "actions", uint32(defaults.Options.ActionMask), "Bitmask of edits we allow")
	flags.Uint32Var(&f.disabledEvents, "disabled-events", 0, "Bitmask of events not to offer")
	flags.BoolVar(&f.skipFirstHeader, "skip-first-header", false, "Don't send the first header (our own Received:)")
	flags.StringVar(&f.hostname, "hostname", defaults.Hostname, "Client hostname to send in CONNECT")
	flags.StringVar(&f.family, "family", "inet", "Protocol family to send in CONNECT: inet, inet6, unix or unknown")
	flags.StringVar(&f.port, "port", defaults.Port, "Client port to send in CONNECT")
	flags.StringVar(&f.connAddr, "conn-addr", defaults.ConnAddr, "Client address to send in CONNECT")
	flags.StringVar(&f.helo, "helo", defaults.Helo, "Value to send in HELO")
	flags.StringVar(&f.from, "from", defaults.From, "Sender to send in MAIL")
	flags.StringSliceVar(&f.rcpt, "rcpt", defaults.Rcpt, "Recipients to send in RCPT, comma-separated")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "milter-check:", err)
		os.Exit(1)
	}
}
