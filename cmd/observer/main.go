// The observer binary answers "why did this plan exist and what happened
// to it" from the audit trail alone, and can export a day's audit files
// to object storage. It never writes into the audit tree.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/audit"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/config"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/observer"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	_ = godotenv.Load()
	svc := config.LoadService()
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{
		Level: parseLevel(svc.LogLevel),
	}))
	slog.SetDefault(logger)

	if len(args) == 0 {
		args = []string{"explain"}
	}
	switch args[0] {
	case "explain":
		return runExplain(args[1:], stdout, logger)
	case "export":
		return runExport(args[1:], stdout, logger)
	default:
		fmt.Fprintf(stderr, "usage: observer <explain [plan-id] | export -dest <gs://...|s3://...>>\n")
		return 2
	}
}

func runExplain(args []string, stdout io.Writer, logger *slog.Logger) int {
	fs := flag.NewFlagSet("explain", flag.ContinueOnError)
	proposalsDir := fs.String("proposals-dir", "audit", "proposals audit base directory")
	decisionsDir := fs.String("decisions-dir", "audit/execution_decisions", "decisions base directory")
	stdoutLog := fs.String("stdout-log", "", "captured agent stdout for evidence fallback")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	planID := ""
	if fs.NArg() > 0 {
		planID = fs.Arg(0)
	}

	o := observer.New(*proposalsDir, *decisionsDir)
	o.StdoutLogPath = *stdoutLog

	explanation, err := o.Explain(planID)
	if err != nil {
		logger.Error("explain failed", "plan_id", planID, "error", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(explanation); err != nil {
		logger.Error("encode failed", "error", err)
		return 1
	}
	return 0
}

func runExport(args []string, stdout io.Writer, logger *slog.Logger) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	auditDir := fs.String("audit-dir", "audit", "audit base directory")
	day := fs.String("day", time.Now().UTC().Format("2006-01-02"), "UTC day to export")
	dest := fs.String("dest", "", "destination bucket, gs://name or s3://name")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *dest == "" {
		logger.Error("export requires -dest")
		return 2
	}

	ctx := context.Background()
	uploader, err := audit.NewUploader(ctx, *dest)
	if err != nil {
		logger.Error("uploader init failed", "dest", *dest, "error", err)
		return 1
	}

	keys, err := audit.ExportDay(ctx, uploader, *auditDir, *day)
	if err != nil {
		logger.Error("export failed", "day", *day, "error", err)
		return 1
	}
	for _, key := range keys {
		fmt.Fprintln(stdout, key)
	}
	logger.Info("export complete", "day", *day, "objects", len(keys))
	return 0
}

func parseLevel(level string) slog.Level {
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
