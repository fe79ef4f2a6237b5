package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/hrsync/internal/common"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

// globalFlags are accepted before the subcommand
type globalFlags struct {
	configFiles configPaths
	visible     bool
	clearCache  bool
	noCache     bool
	debug       bool
	version     bool
}

const usage = `Usage: hrsync [global flags] <command> [command flags]

Commands:
  payslips   Sync payslips to the local cache (-skip-pdf, -pdf-only, -list, -browser)
  employees  Export the employee directory (-test, -enrich, -output DIR)
  leave      Pending leave requests: list, show, approve, reject, message
  auth       Session management: test [-protocol], clear
  schedule   Run the configured task on its cron schedule until interrupted
  history    Show recent sync runs (-limit N)

Global flags:
`

// command runs one subcommand with its remaining arguments
type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"payslips":  runPayslips,
	"employees": runEmployees,
	"leave":     runLeave,
	"auth":      runAuth,
	"schedule":  runSchedule,
	"history":   runHistory,
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	defer common.RecoverWithCrashFile()

	flags := &globalFlags{}
	fs := flag.NewFlagSet("hrsync", flag.ContinueOnError)
	fs.Var(&flags.configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	fs.Var(&flags.configFiles, "c", "Configuration file path (shorthand)")
	fs.BoolVar(&flags.visible, "visible", false, "Show the browser window during browser login")
	fs.BoolVar(&flags.clearCache, "clear-cache", false, "Delete the cached session before authenticating")
	fs.BoolVar(&flags.noCache, "no-cache", false, "Neither read nor write the session cache")
	fs.BoolVar(&flags.debug, "debug", false, "Debug logging and an HTTP trace of the sign-on flow")
	fs.BoolVar(&flags.version, "version", false, "Print version information")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if flags.version {
		fmt.Printf("hrsync version %s\n", common.GetFullVersion())
		return 0
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", name)
		fs.Usage()
		return 2
	}

	// Auto-discover config file if not specified
	if len(flags.configFiles) == 0 {
		if _, err := os.Stat("hrsync.toml"); err == nil {
			flags.configFiles = append(flags.configFiles, "hrsync.toml")
		}
	}

	// Startup sequence: config (defaults -> files -> env) -> CLI overrides -> logger -> banner
	config, err := common.LoadFromFiles(flags.configFiles...)
	if err != nil {
		arbor.NewLogger().Error().Strs("paths", flags.configFiles).Err(err).Msg("Failed to load configuration files")
		return 1
	}
	common.ApplyFlagOverrides(config, flags.visible, flags.debug)
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Debug().
		Strs("config_files", flags.configFiles).
		Str("auth_mode", config.Auth.Mode).
		Str("cache_dir", config.Sync.CacheDir).
		Str("log_level", config.Logging.Level).
		Msg("Resolved configuration")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(config, flags, logger)
	if err != nil {
		return report(logger, err)
	}
	defer a.Close()

	return report(logger, cmd(ctx, a, fs.Args()[1:]))
}

// report prints err with a remediation hint and returns the exit code
func report(logger arbor.ILogger, err error) int {
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return 0
	}

	var ce *cliError
	if errors.As(err, &ce) {
		fmt.Fprintf(os.Stderr, "\nError: %s\n", ce.msg)
		return ce.code
	}

	class := common.Classify(err)
	logger.Debug().Str("class", class.String()).Err(err).Msg("Command failed")

	fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	if hint := common.Remediation(err); hint != "" {
		fmt.Fprintln(os.Stderr, hint)
	}
	if class == common.ClassDefect {
		fmt.Fprintln(os.Stderr, "This looks like a bug. Re-run with -debug and report the log.")
	}
	return 1
}

// cliError is a problem with the invocation or an outcome the user must
// check by hand; it is reported without the defect hint
type cliError struct {
	msg  string
	code int
}

func (e *cliError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &cliError{msg: fmt.Sprintf(format, args...), code: 2}
}

// flagError marks a subcommand parse failure as a usage error; the flag
// package has already printed the details
func flagError(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return err
	}
	return &cliError{msg: err.Error(), code: 2}
}
