// Command hublink-log is a tool for viewing and analyzing protocol trace
// files.
//
// Trace files are written by hublink-device when a trace file is configured
// (log.trace_file or the -trace flag). Each file is a stream of CBOR-encoded
// events from the transport, connection and provisioning layers.
//
// Usage:
//
//	hublink-log <command> [flags] <file.hlog>
//
// Commands:
//
//	view     View trace file in human-readable format
//	export   Export trace file to JSONL or CSV format
//	filter   Filter trace file and write to new file
//	stats    Show statistics about the trace file
//
// Examples:
//
//	# View all events
//	hublink-log view device.hlog
//
//	# View only retry decisions
//	hublink-log view -category retry device.hlog
//
//	# View only outgoing messages
//	hublink-log view -direction out device.hlog
//
//	# Export to CSV
//	hublink-log export -format csv -o device.csv device.hlog
//
//	# Keep one session and save to new file
//	hublink-log filter -session-id 3f2a9c1e-... -o session.hlog device.hlog
//
//	# Show statistics
//	hublink-log stats device.hlog
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/hublink-io/hublink-go/cmd/hublink-log/commands"
)

const usage = `hublink-log - Hublink Protocol Trace Analyzer

Usage:
  hublink-log <command> [flags] <file.hlog>

Commands:
  view     View trace file in human-readable format
  export   Export trace file to JSONL or CSV format
  filter   Filter trace file and write to new file
  stats    Show statistics about the trace file

Use "hublink-log <command> -help" for more information about a command.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprint(stderr, usage)
		return 1
	}

	cmd := args[0]
	args = args[1:]

	var err error
	switch cmd {
	case "view":
		err = runView(args, stdout, stderr)
	case "export":
		err = runExport(args, stdout, stderr)
	case "filter":
		err = runFilter(args, stdout, stderr)
	case "stats":
		err = runStats(args, stdout, stderr)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(stderr, usage)
		return 1
	}

	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// newFlagSet returns a flag set that prints its usage header to stderr.
func newFlagSet(name, header string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, header)
		fs.PrintDefaults()
	}
	return fs
}

// parsePath parses flags and returns the single trace file argument.
func parsePath(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return "", errors.New("log file path required")
	}
	return fs.Arg(0), nil
}

func runView(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("view", `hublink-log view - View trace file in human-readable format

Usage:
  hublink-log view [flags] <file.hlog>

Flags:
`, stderr)

	layer := fs.String("layer", "", "Filter by layer (transport, connection, provisioning)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, state, retry, error)")

	path, err := parsePath(fs, args)
	if err != nil {
		return err
	}

	var filter commands.ViewFilter

	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			return err
		}
		filter.Layer = &l
	}

	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			return err
		}
		filter.Direction = &d
	}

	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			return err
		}
		filter.Category = &c
	}

	return commands.RunView(path, filter, stdout)
}

func runExport(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("export", `hublink-log export - Export trace file to JSONL or CSV format

Usage:
  hublink-log export [flags] <file.hlog>

Flags:
`, stderr)

	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	path, err := parsePath(fs, args)
	if err != nil {
		return err
	}
	return commands.RunExport(path, *format, *output, stdout)
}

func runFilter(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("filter", `hublink-log filter - Filter trace file and write to new file

Usage:
  hublink-log filter [flags] <file.hlog>

Flags:
`, stderr)

	var opts commands.FilterOptions
	fs.StringVar(&opts.Output, "o", "", "Output file (required)")
	fs.StringVar(&opts.SessionID, "session-id", "", "Filter by session ID")
	fs.StringVar(&opts.DeviceID, "device-id", "", "Filter by device ID")
	fs.StringVar(&opts.Protocol, "protocol", "", "Filter by protocol (https, amqps_ws, mqtt_ws)")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, connection, provisioning)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, state, retry, error)")

	path, err := parsePath(fs, args)
	if err != nil {
		return err
	}
	if opts.Output == "" {
		fs.Usage()
		return errors.New("output file (-o) required")
	}
	return commands.RunFilter(path, opts, stdout)
}

func runStats(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("stats", `hublink-log stats - Show statistics about the trace file

Usage:
  hublink-log stats <file.hlog>

`, stderr)

	path, err := parsePath(fs, args)
	if err != nil {
		return err
	}
	return commands.RunStats(path, stdout)
}
