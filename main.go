package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

const defaultConfigFile = "config.yaml"

// AppOptions carries the parsed command line into the App
type AppOptions struct {
	ConfigFile  string
	HTTPAddr    string
	StorageRoot string
	ImportCase  string
	OutputDir   string
	Format      string
	LogLevel    string
	Pretty      bool
}

// Runner is what run drives; App implements it
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunImport(caseID string) error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "casemap: %v\n", err)
		os.Exit(1)
	}
}

// run parses args and dispatches to the one-shot import or the service
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("casemap", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", defaultConfigFile, "Path to configuration file")
	fs.StringVar(&opts.HTTPAddr, "http-addr", "", "HTTP listen address (overrides config)")
	fs.StringVar(&opts.StorageRoot, "storage", "", "Directory holding one folder per case (overrides config)")
	fs.StringVar(&opts.ImportCase, "import", "", "Import a single case, write its exports and exit")
	fs.StringVar(&opts.OutputDir, "out", ".", "Output directory for --import")
	fs.StringVar(&opts.Format, "format", "png", "Snapshot format for --import: png or svg")
	fs.StringVar(&opts.LogLevel, "log-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	fs.BoolVar(&opts.Pretty, "pretty", false, "Human-readable console logs")
	showVersion := fs.Bool("version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *showVersion {
		fmt.Fprintf(out, "casemap version: %s\n", Version)
		return nil
	}

	switch opts.Format {
	case "png", "svg":
	default:
		return fmt.Errorf("unsupported --format %q (want png or svg)", opts.Format)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	app.ApplyOptions(opts)

	if opts.ImportCase != "" {
		return app.RunImport(opts.ImportCase)
	}

	fmt.Fprintf(out, "casemap version: %s\n", Version)
	fmt.Fprintln(out, "casemap service starting...")
	return app.RunService()
}
