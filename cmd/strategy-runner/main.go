// The strategy-runner binary packages strategy bundles and runs them in
// the WASI sandbox over a recorded market-event NDJSON file, printing the
// validated intents. Intents go nowhere else: running a strategy here
// observes it, nothing more.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/config"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/sandbox"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	svc := config.LoadService()
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{
		Level: parseLevel(svc.LogLevel),
	}))
	slog.SetDefault(logger)

	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: strategy-runner <pack|run> ...")
		return 2
	}
	switch args[0] {
	case "pack":
		return runPack(args[1:], logger)
	case "run":
		return runBundle(args[1:], stdout, logger)
	default:
		fmt.Fprintln(stderr, "usage: strategy-runner <pack|run> ...")
		return 2
	}
}

func runPack(args []string, logger *slog.Logger) int {
	fs := flag.NewFlagSet("pack", flag.ContinueOnError)
	wasmPath := fs.String("wasm", "", "compiled strategy wasm module")
	manifestPath := fs.String("manifest", "", "manifest JSON file")
	out := fs.String("out", "strategy.bundle", "output bundle path")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *wasmPath == "" || *manifestPath == "" {
		logger.Error("pack requires -wasm and -manifest")
		return 2
	}

	manifestRaw, err := os.ReadFile(*manifestPath)
	if err != nil {
		logger.Error("read manifest failed", "error", err)
		return 1
	}
	var manifest sandbox.Manifest
	if err := json.Unmarshal(manifestRaw, &manifest); err != nil {
		logger.Error("parse manifest failed", "error", err)
		return 1
	}
	wasm, err := os.ReadFile(*wasmPath)
	if err != nil {
		logger.Error("read wasm failed", "error", err)
		return 1
	}

	f, err := os.Create(*out)
	if err != nil {
		logger.Error("create bundle failed", "error", err)
		return 1
	}
	defer f.Close()
	if err := sandbox.WriteBundle(f, manifest, wasm); err != nil {
		logger.Error("write bundle failed", "error", err)
		return 1
	}

	// Re-read for the identity digest.
	bundleRaw, err := os.Open(*out)
	if err != nil {
		logger.Error("reopen bundle failed", "error", err)
		return 1
	}
	defer bundleRaw.Close()
	b, err := sandbox.ReadBundle(bundleRaw)
	if err != nil {
		logger.Error("verify bundle failed", "error", err)
		return 1
	}
	logger.Info("bundle packaged",
		"path", *out, "name", b.Manifest.Name, "digest", b.Digest)
	return 0
}

func runBundle(args []string, stdout io.Writer, logger *slog.Logger) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	bundlePath := fs.String("bundle", "", "strategy bundle to run")
	eventsPath := fs.String("events", "", "market-event NDJSON file")
	timeout := fs.Duration("timeout", sandbox.DefaultSessionTimeout, "session deadline")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *bundlePath == "" || *eventsPath == "" {
		logger.Error("run requires -bundle and -events")
		return 2
	}

	f, err := os.Open(*bundlePath)
	if err != nil {
		logger.Error("open bundle failed", "error", err)
		return 1
	}
	bundle, err := sandbox.ReadBundle(f)
	f.Close()
	if err != nil {
		logger.Error("bundle rejected", "error", err)
		return 1
	}
	logger.Info("bundle verified", "name", bundle.Manifest.Name, "digest", bundle.Digest)

	events, err := loadEvents(*eventsPath)
	if err != nil {
		logger.Error("load events failed", "error", err)
		return 1
	}

	runner := sandbox.NewRunner(
		sandbox.WithSessionTimeout(*timeout),
		sandbox.WithLogger(logger.With("component", "sandbox")),
	)
	result, err := runner.Run(context.Background(), bundle, events)
	if err != nil {
		logger.Error("session failed", "error", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	for _, intent := range result.Intents {
		if err := enc.Encode(intent); err != nil {
			logger.Error("encode intent failed", "error", err)
			return 1
		}
	}
	logger.Info("session complete",
		"events", len(events),
		"intents", len(result.Intents),
		"rejected", len(result.Rejected),
		"logs", len(result.Logs),
	)
	return 0
}

func loadEvents(path string) ([]sandbox.MarketEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []sandbox.MarketEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev sandbox.MarketEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("events line %d: %w", lineNo, err)
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
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
