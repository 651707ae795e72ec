// Copyright 2025 The pipelog Authors
// SPDX-License-Identifier: Apache-2.0

package pipelog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// RunFifo supervises reading from a named pipe: it creates the fifo if
// missing, then repeatedly opens it for reading and runs the engine until the
// context is canceled. End of stream only means all writers closed their end,
// so each EOF leads to a fresh open and the fifo behaves like a long-lived
// log endpoint. The fifo is removed on the way out.
func RunFifo(ctx context.Context, path string, outputs []Output, cfg Config) error {
	if err := ensureParentDirs(path); err != nil {
		return err
	}

	if err := unix.Mkfifo(path, 0o644); err != nil {
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("creating fifo %q: %w", path, err)
		}

		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("checking fifo %q: %w", path, err)
		}
		if info.Mode()&os.ModeNamedPipe == 0 {
			return fmt.Errorf("file %q exists but is not a fifo", path) //nolint:goerr113
		}
	}

	defer func() {
		if err := os.Remove(path); err != nil {
			slog.Warn("Removing fifo", "path", path, "error", err)
		}
	}()

	for {
		f, err := openFifo(ctx, path)
		if err != nil {
			return err
		}

		err = Pipe(ctx, f, outputs, cfg)
		closeErr := f.Close()
		if err != nil {
			return err
		}
		if closeErr != nil {
			return fmt.Errorf("closing fifo %q: %w", path, closeErr)
		}

		// all writers are gone, wait for the next one
	}
}

// openFifo blocks until a writer opens the other end, honoring ctx.
func openFifo(ctx context.Context, path string) (*os.File, error) {
	type result struct {
		f   *os.File
		err error
	}

	results := make(chan result, 1)
	go func() {
		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		results <- result{f: f, err: err}
	}()

	select {
	case <-ctx.Done():
		// the open may still complete; do not leak its descriptor
		go func() {
			if res := <-results; res.f != nil {
				res.f.Close() //nolint:errcheck
			}
		}()

		return nil, fmt.Errorf("waiting for fifo writer: %w", ErrInterrupted)

	case res := <-results:
		if res.err != nil {
			return nil, fmt.Errorf("opening fifo %q: %w", path, res.err)
		}

		return res.f, nil
	}
}
