// Package cmd implements the parley commands.
//
// Every flag that has a parley.yaml counterpart follows the same
// precedence: a flag given on the command line, then the config value, then
// the flag default.
package cmd

import (
	"time"

	"github.com/urfave/cli/v2"
)

// Output flags shared by commands that print data.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored table headers.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// ConfigFlag points at a parley.yaml. Without it ./parley.yaml is used
	// when present.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to parley.yaml",
		EnvVars: []string{"PARLEY_CONFIG"},
	}
)

// OutputFlags returns the shared output flags.
func OutputFlags() []cli.Flag {
	return []cli.Flag{FormatFlag, NoColorFlag}
}

// ClientFlags are the identity and logging flags every backend command takes.
func ClientFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{Name: "client-id", Usage: "Client identifier for logs, archives and events (default: hostname)"},
		&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error", Value: "warn"},
		&cli.StringFlag{Name: "log-file", Usage: "Write logs to this file instead of stderr"},
	}
}

// BackendFlags locate the chat backend.
func BackendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "backend-url", Usage: "Chat backend base URL", EnvVars: []string{"PARLEY_BACKEND_URL"}},
		&cli.StringFlag{Name: "token", Usage: "Bearer token for the backend", EnvVars: []string{"PARLEY_TOKEN"}},
		&cli.DurationFlag{Name: "backend-timeout", Usage: "Timeout for non-streaming backend requests", Value: 30 * time.Second},
		&cli.IntFlag{Name: "backend-retries", Usage: "Retries for idempotent backend reads", Value: 2},
		&cli.StringSliceFlag{Name: "backend-header", Usage: "Extra backend request header (key=value, repeatable)"},
	}
}

// ChatFlags tune the session controller.
func ChatFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "persona", Usage: "Persona ID for new sessions"},
		&cli.StringFlag{Name: "session", Usage: "Continue an existing session"},
		&cli.DurationFlag{Name: "reveal-cadence", Usage: "Interval between reveal steps", Value: 25 * time.Millisecond},
		&cli.IntFlag{Name: "reveal-step", Usage: "Characters revealed per step", Value: 1},
		&cli.IntFlag{Name: "max-pending-citations", Usage: "Citations held for messages not yet seen", Value: 256},
		&cli.IntFlag{Name: "max-frame-size", Usage: "Largest accepted stream frame in bytes", Value: 4 * 1024 * 1024},
	}
}

// ArchiveFlags select where finished turns are archived.
func ArchiveFlags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "archive-policy", Usage: "Archive policy: strict, buffered or none", Value: "none"},
		&cli.IntFlag{Name: "archive-buffer-turns", Usage: "Turns held before a buffered flush", Value: 16},
	}
	return append(flags, ArchiveStoreFlags()...)
}

// ArchiveStoreFlags locate an archive dataset.
func ArchiveStoreFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "archive-dataset", Usage: "Archive dataset ID", Value: "parley"},
		&cli.StringFlag{Name: "archive-backend", Usage: "Archive storage backend: fs or s3", Value: "fs"},
		&cli.StringFlag{Name: "archive-path", Usage: "Archive path (fs: directory, s3: bucket/prefix)"},
		&cli.StringFlag{Name: "archive-region", Usage: "AWS region for the s3 backend"},
		&cli.StringFlag{Name: "archive-endpoint", Usage: "Custom S3 endpoint (MinIO, R2)"},
		&cli.BoolFlag{Name: "archive-s3-path-style", Usage: "Use path-style S3 addressing"},
	}
}

// AdapterFlags select the turn-completion notifier.
func AdapterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "adapter", Usage: "Turn event adapter: webhook or redis"},
		&cli.StringFlag{Name: "adapter-url", Usage: "Webhook endpoint or Redis URL"},
		&cli.StringFlag{Name: "adapter-channel", Usage: "Redis channel (default parley:turn_completed)"},
		&cli.StringSliceFlag{Name: "adapter-header", Usage: "Webhook header (key=value, repeatable)"},
		&cli.DurationFlag{Name: "adapter-timeout", Usage: "Per-publish timeout", Value: 10 * time.Second},
		&cli.IntFlag{Name: "adapter-retries", Usage: "Publish retries after the first attempt", Value: 3},
		&cli.StringFlag{Name: "adapter-encoding", Usage: "Event encoding: json or msgpack", Value: "json"},
	}
}

// SessionFlags is everything a command that runs turns needs.
func SessionFlags() []cli.Flag {
	flags := ClientFlags()
	flags = append(flags, BackendFlags()...)
	flags = append(flags, ChatFlags()...)
	flags = append(flags, ArchiveFlags()...)
	return append(flags, AdapterFlags()...)
}

// ReadFlags is what a read-only backend command needs.
func ReadFlags() []cli.Flag {
	flags := ClientFlags()
	flags = append(flags, BackendFlags()...)
	return append(flags, OutputFlags()...)
}
