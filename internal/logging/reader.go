package logging

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// DefaultPollInterval is how often Follow checks for appended output.
const DefaultPollInterval = 500 * time.Millisecond

// Follow streams the log at path to out as it grows, like tail -f. The
// current content is written first, then new lines as they are appended. It
// blocks until the context is cancelled; cancellation is a clean return.
func Follow(ctx context.Context, path string, out io.Writer, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open operation log: %w", err)
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	// pending holds a line the writer has only partially flushed; it is
	// emitted once its newline arrives.
	var pending string
	for {
		var err error
		pending, err = drain(reader, out, pending)
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			if pending != "" {
				_, _ = io.WriteString(out, pending)
			}
			return nil
		case <-ticker.C:
		}
	}
}

// drain copies every complete line currently readable, stopping at EOF.
func drain(reader *bufio.Reader, out io.Writer, pending string) (string, error) {
	for {
		chunk, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return pending + chunk, nil
		}
		if err != nil {
			return pending, fmt.Errorf("read operation log: %w", err)
		}
		if _, err := io.WriteString(out, pending+chunk); err != nil {
			return "", fmt.Errorf("write log output: %w", err)
		}
		pending = ""
	}
}
