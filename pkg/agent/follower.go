// Package agent implements the execution agent: a single-threaded
// cooperative follower that tails the proposals NDJSON file, decides each
// proposal against the safety gates, and appends decisions to the
// day-partitioned decisions log.
package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// StartAt selects where the follower begins reading.
type StartAt string

const (
	StartAtEnd       StartAt = "end"
	StartAtBeginning StartAt = "beginning"
)

// DefaultPollInterval is how long the follower sleeps when no new bytes
// are available.
const DefaultPollInterval = 250 * time.Millisecond

// Follower tails an append-only NDJSON file. Lines are delivered in
// strict file order; a partial trailing line (no newline yet) is held
// until its writer completes it.
type Follower struct {
	path         string
	startAt      StartAt
	pollInterval time.Duration
}

// NewFollower creates a follower over path.
func NewFollower(path string, startAt StartAt, pollInterval time.Duration) *Follower {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if startAt != StartAtBeginning {
		startAt = StartAtEnd
	}
	return &Follower{path: path, startAt: startAt, pollInterval: pollInterval}
}

// Follow reads complete lines and hands each to handle. It returns nil on
// context cancellation and an error only if the file cannot be opened.
// handle is called between reads, never concurrently; returning an error
// from handle stops the follower.
func (f *Follower) Follow(ctx context.Context, handle func(line []byte) error) error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("follow %s: %w", f.path, err)
	}
	defer func() { _ = file.Close() }()

	var offset int64
	if f.startAt == StartAtEnd {
		offset, err = file.Seek(0, io.SeekEnd)
		if err != nil {
			return fmt.Errorf("follow %s: seek: %w", f.path, err)
		}
	}

	var partial []byte
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		chunk, n, readErr := readFrom(file, offset)
		offset += int64(n)
		if n > 0 {
			partial = append(partial, chunk...)
			for {
				idx := bytes.IndexByte(partial, '\n')
				if idx < 0 {
					break
				}
				line := bytes.TrimRight(partial[:idx], "\r")
				partial = partial[idx+1:]
				if len(bytes.TrimSpace(line)) == 0 {
					continue
				}
				// Copy: the backing array is about to be reused.
				out := make([]byte, len(line))
				copy(out, line)
				if err := handle(out); err != nil {
					return err
				}
			}
			continue
		}
		if readErr != nil && readErr != io.EOF {
			return fmt.Errorf("follow %s: read: %w", f.path, readErr)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func readFrom(file *os.File, offset int64) ([]byte, int, error) {
	buf := make([]byte, 64*1024)
	n, err := file.ReadAt(buf, offset)
	if n > 0 {
		return buf[:n], n, err
	}
	return nil, 0, err
}
