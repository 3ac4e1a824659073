// Auditlog - Tamper-Evident Audit Logging for Lead Automation
// Copyright 2026 Leadflow
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/leadflow/auditlog

// Package main is auditctl, the operator CLI for the audit engine.
//
// Subcommands:
//
//	stats      aggregate event counts, optionally per workflow
//	query      filtered event listing
//	errors     recent error events
//	integrity  signature verification over the log
//	export     render matching events as CSV or JSON
//
// Configuration is loaded the same way the embedding application loads
// it: built-in defaults, then an optional YAML file (AUDITLOG_CONFIG or
// the default search paths), then environment variables.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/leadflow/auditlog/internal/audit"
	"github.com/leadflow/auditlog/internal/config"
	"github.com/leadflow/auditlog/internal/logging"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "auditctl: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  "warn", // CLI output stays clean unless something breaks
		Format: "console",
	})

	logger, err := audit.New(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auditctl: %v\n", err)
		os.Exit(1)
	}
	defer logger.Shutdown()

	var runErr error
	switch os.Args[1] {
	case "stats":
		runErr = runStats(logger, os.Args[2:])
	case "query":
		runErr = runQuery(logger, os.Args[2:])
	case "errors":
		runErr = runErrors(logger, os.Args[2:])
	case "integrity":
		runErr = runIntegrity(logger, os.Args[2:])
	case "export":
		runErr = runExport(logger, os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "auditctl: unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "auditctl: %v\n", runErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: auditctl <command> [flags]

Commands:
  stats      [-workflow NAME]
  query      [-type T] [-lead ID] [-workflow NAME] [-since DUR] [-limit N] [-rotated]
  errors     [-limit N]
  integrity  [-rotated]
  export     [-format csv|json] [-type T] [-lead ID] [-workflow NAME] [-limit N] [-o FILE]
`)
}

func runStats(logger *audit.Logger, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	workflow := fs.String("workflow", "", "restrict to one workflow")
	if err := fs.Parse(args); err != nil {
		return err
	}

	stats, err := logger.GetStatistics(*workflow)
	if err != nil {
		return err
	}

	fmt.Printf("Total events:  %d\n", stats.TotalEvents)
	fmt.Printf("Unique leads:  %d\n", stats.UniqueLeads)
	fmt.Printf("Errors:        %d\n", stats.ErrorCount)
	fmt.Println("By type:")
	for eventType, count := range stats.EventCounts {
		fmt.Printf("  %-20s %d\n", eventType, count)
	}
	return nil
}

func queryFlags(fs *flag.FlagSet) (*string, *string, *string, *time.Duration, *int, *bool) {
	eventType := fs.String("type", "", "event type filter")
	lead := fs.String("lead", "", "lead ID filter")
	workflow := fs.String("workflow", "", "workflow filter")
	since := fs.Duration("since", 0, "only events newer than this (e.g. 24h)")
	limit := fs.Int("limit", 100, "maximum events returned")
	rotated := fs.Bool("rotated", false, "include rotated segments")
	return eventType, lead, workflow, since, limit, rotated
}

func buildFilter(eventType, lead, workflow string, since time.Duration, limit int, rotated bool) audit.QueryFilter {
	filter := audit.QueryFilter{
		EventType:      eventType,
		LeadID:         lead,
		Workflow:       workflow,
		Limit:          limit,
		IncludeRotated: rotated,
	}
	if since > 0 {
		filter.StartTime = time.Now().UTC().Add(-since)
	}
	return filter
}

func runQuery(logger *audit.Logger, args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	eventType, lead, workflow, since, limit, rotated := queryFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	events, err := logger.Query(buildFilter(*eventType, *lead, *workflow, *since, *limit, *rotated))
	if err != nil {
		return err
	}
	return printEvents(events)
}

func runErrors(logger *audit.Logger, args []string) error {
	fs := flag.NewFlagSet("errors", flag.ExitOnError)
	limit := fs.Int("limit", 50, "maximum events returned")
	if err := fs.Parse(args); err != nil {
		return err
	}

	events, err := logger.Query(audit.QueryFilter{
		EventType: audit.EventError,
		Limit:     *limit,
	})
	if err != nil {
		return err
	}
	return printEvents(events)
}

func runIntegrity(logger *audit.Logger, args []string) error {
	fs := flag.NewFlagSet("integrity", flag.ExitOnError)
	rotated := fs.Bool("rotated", false, "include rotated segments")
	if err := fs.Parse(args); err != nil {
		return err
	}

	report, err := logger.VerifyLog(*rotated)
	if err != nil {
		return err
	}

	fmt.Printf("Events:   %d\n", report.Total)
	fmt.Printf("Valid:    %d\n", report.Valid)
	fmt.Printf("Invalid:  %d\n", report.Invalid)
	if report.Missing > 0 {
		fmt.Printf("Unsigned: %d\n", report.Missing)
	}
	if report.Invalid > 0 {
		return fmt.Errorf("%d events failed signature verification", report.Invalid)
	}
	fmt.Println("Integrity OK")
	return nil
}

func runExport(logger *audit.Logger, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	format := fs.String("format", audit.FormatJSON, "output format: csv or json")
	out := fs.String("o", "", "output file (default stdout)")
	eventType, lead, workflow, since, limit, rotated := queryFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	blob, err := logger.Export(buildFilter(*eventType, *lead, *workflow, *since, *limit, *rotated), *format)
	if err != nil {
		return err
	}

	if *out == "" {
		_, err = os.Stdout.Write(blob)
		return err
	}
	return os.WriteFile(*out, blob, 0640)
}

func printEvents(events []audit.Event) error {
	for i := range events {
		line, err := json.Marshal(&events[i])
		if err != nil {
			return err
		}
		fmt.Println(string(line))
	}
	fmt.Fprintf(os.Stderr, "%d events\n", len(events))
	return nil
}
