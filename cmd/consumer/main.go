// The consumer binary drains a recorded delivery stream (NDJSON on stdin
// or a file) into the document store: idempotent, last-write-wins, with
// dedupe, replay markers, and DLQ sampling per the active profile.
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
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/config"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/consumer"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/docstore"
	"github.com/RichKingsASU/agent-trader-v2-sub003/pkg/observability"
)

// deliveryLine is one recorded delivery.
type deliveryLine struct {
	Topic       string            `json:"topic"`
	MessageID   string            `json:"message_id"`
	PublishTime time.Time         `json:"publish_time"`
	OrderingKey string            `json:"ordering_key,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Data        json.RawMessage   `json:"data"`
}

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	var (
		profilesDir = flag.String("profiles", "profiles", "directory holding profile_*.yaml")
		profileName = flag.String("profile", "dev", "profile name to load")
		input       = flag.String("input", "-", "delivery NDJSON file, or - for stdin")
		replayRun   = flag.String("replay-run", "", "replay run id; empty disables replay gating")
		replayTopic = flag.String("replay-topic", "", "topic the replay run re-processes")
		name        = flag.String("consumer", "trader-consumer", "consumer name for replay markers")
	)
	flag.Parse()

	svc := config.LoadService()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(svc.LogLevel),
	}))
	slog.SetDefault(logger)

	profile, err := config.LoadProfile(*profilesDir, *profileName)
	if err != nil {
		logger.Error("profile load failed", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "trader-consumer",
		ServiceVersion: "2.0.0",
		Environment:    svc.Environment,
		OTLPEndpoint:   profile.Observability.Endpoint,
		SampleRate:     profile.Observability.SampleRate,
		Enabled:        profile.Observability.Enabled,
		Insecure:       profile.Observability.Insecure,
	})
	if err != nil {
		logger.Error("observability init failed", "error", err)
		return 1
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	store, err := docstore.OpenSQLite(svc.StorePath)
	if err != nil {
		logger.Error("document store open failed", "path", svc.StorePath, "error", err)
		return 1
	}
	defer store.Close()

	opts := []consumer.Option{
		consumer.WithLogger(logger.With("component", "consumer")),
		consumer.WithDLQSampler(consumer.NewDLQSampler(store, uint32(profile.Consumer.DLQSampleBps), 0)),
		consumer.WithDeliveryTracker(consumer.NewDeliveryTracker(store, profile.Consumer.DeliveryWritesPerSecond, logger)),
	}
	if *replayRun != "" {
		if *replayTopic == "" {
			logger.Error("replay-run requires replay-topic")
			return 1
		}
		opts = append(opts, consumer.WithReplay(consumer.ReplayContext{
			RunID:    *replayRun,
			Consumer: *name,
			Topic:    *replayTopic,
		}))
	}
	c := consumer.New(store, opts...)

	in, err := openInput(*input)
	if err != nil {
		logger.Error("input open failed", "error", err)
		return 1
	}
	defer in.Close()

	deliveries := make(chan consumer.Delivery, profile.Consumer.Workers)
	go func() {
		defer close(deliveries)
		if err := readDeliveries(ctx, in, deliveries, logger); err != nil {
			logger.Error("delivery stream failed", "error", err)
		}
	}()

	c.RunWorkers(ctx, profile.Consumer.Workers, deliveries)

	if ctx.Err() != nil {
		logger.Info("interrupted")
		return 130
	}
	return 0
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func readDeliveries(ctx context.Context, in io.Reader, out chan<- consumer.Delivery, logger *slog.Logger) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line deliveryLine
		if err := json.Unmarshal(raw, &line); err != nil {
			logger.Warn("skipping malformed delivery line", "line", lineNo, "error", err)
			continue
		}
		id := line.MessageID
		d := consumer.Delivery{
			Topic: line.Topic,
			Message: consumer.Message{
				ID:          line.MessageID,
				Data:        line.Data,
				Attributes:  line.Attributes,
				PublishTime: line.PublishTime,
				OrderingKey: line.OrderingKey,
			},
			Ack:  func() { logger.Debug("acked", "message_id", id) },
			Nack: func() { logger.Warn("nacked", "message_id", id) },
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- d:
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read deliveries: %w", err)
	}
	return nil
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
