// Copyright 2025 The pipelog Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipelog multiplexes one input stream onto any number of outputs,
// rotating file outputs whenever their time-formatted name changes or a
// SIGHUP asks for a forced re-open. With a single output it transfers data
// with splice(2) where available, falling back to a buffered read/write loop
// everywhere else.
package pipelog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Config holds the engine flags.
type Config struct {
	// Quiet suppresses diagnostic messages; it never changes control flow.
	Quiet bool
	// ExitOnWriteError promotes any per-output open, write or link failure
	// to a fatal error for the whole invocation.
	ExitOnWriteError bool
	// NoSplice forces the buffered dispatch loop even for a single output.
	NoSplice bool
}

const (
	readBufSize = 32 << 10
	spliceChunk = 1 << 20
)

// Pipe fans the input stream out to all outputs until end of input. It
// returns nil at EOF, ErrInterrupted (possibly wrapped) when ctx is canceled
// mid-stream, and an error describing the first fatal failure otherwise.
//
// Descriptors supplied via NewFDOutput are borrowed and stay open; every
// descriptor the engine opens itself is closed before Pipe returns.
func Pipe(ctx context.Context, input *os.File, outputs []Output, cfg Config) error {
	if len(outputs) == 0 {
		return &ConfigError{Reason: "at least one output is required"}
	}
	for i, out := range outputs {
		if err := out.validate(); err != nil {
			return fmt.Errorf("output[%d]: %w", i, err)
		}
	}

	// write errors must surface as EPIPE, not kill the process
	signal.Ignore(syscall.SIGPIPE)

	coord, err := newSignalCoordinator()
	if err != nil {
		return err
	}
	defer coord.stop()

	e := &engine{
		input:   input,
		outputs: outputs,
		states:  make([]outputState, len(outputs)),
		cfg:     cfg,
		coord:   coord,
	}
	defer e.teardown()

	if len(outputs) == 1 && !cfg.NoSplice {
		err := e.runSplice(ctx)
		if !errors.Is(err, errSpliceUnsupported) {
			return err
		}

		slog.Debug("Zero-copy transfer unavailable, using buffered dispatch")
		coord.drainNotify()
	}

	return e.runDispatch(ctx)
}

type engine struct {
	input   *os.File
	outputs []Output
	states  []outputState
	cfg     Config
	coord   *signalCoordinator
}

// teardown closes engine-opened descriptors only.
func (e *engine) teardown() {
	for i := range e.states {
		st := &e.states[i]
		if st.file != nil && e.outputs[i].isFile() {
			st.file.Close() //nolint:errcheck
			st.file = nil
		}
	}
}

type readResult struct {
	data []byte
	err  error
}

// runDispatch is the general-purpose transfer loop: read one chunk, write it
// to every output in declaration order. All outputs of a cycle share one
// local-time snapshot so they rotate consistently.
func (e *engine) runDispatch(ctx context.Context) error {
	pumpDone := make(chan struct{})
	defer close(pumpDone)

	reads := make(chan readResult)
	go readPump(e.input, reads, pumpDone)

	for {
		var chunk []byte
		force := false

		select {
		case <-ctx.Done():
			return fmt.Errorf("reading input: %w", ErrInterrupted)

		case <-e.coord.rotations():
			// rotation-only cycle: no input bytes are consumed
			e.coord.takePending()
			force = true

		case res, ok := <-reads:
			if !ok {
				return nil // end of stream
			}
			if res.err != nil {
				return fmt.Errorf("reading input: %w", res.err)
			}
			chunk = res.data
		}

		// a rotation request arriving from here on stays pending until the
		// next cycle, so it cannot tear the writes below
		now := time.Now()

		for i := range e.outputs {
			out := e.outputs[i]
			st := &e.states[i]

			f, err := st.resolve(out, now, force, openAppend, e.cfg.ExitOnWriteError)
			if err != nil {
				if e.cfg.ExitOnWriteError {
					return fmt.Errorf("output[%d]: %w", i, err)
				}
				slog.Warn("Skipping output for this chunk", "output", out.String(), "error", err)

				continue
			}
			if f == nil || len(chunk) == 0 {
				continue
			}

			if err := writeAll(f, chunk); err != nil {
				if e.cfg.ExitOnWriteError {
					return fmt.Errorf("output[%d]: writing: %w", i, err)
				}
				slog.Warn("Write failed", "output", out.String(), "error", err)

				if !errors.Is(err, unix.EAGAIN) {
					if out.isFile() {
						// force a re-open at the next rotation check
						f.Close() //nolint:errcheck
						st.file = nil
					} else {
						st.disabled = true
					}
				}
			}
		}
	}
}

// readPump feeds input chunks to the dispatch loop. It exits on EOF, on a
// read error, or when the engine is done with the stream.
func readPump(input *os.File, reads chan<- readResult, done <-chan struct{}) {
	defer close(reads)

	for {
		buf := make([]byte, readBufSize)
		n, err := input.Read(buf)

		if n > 0 {
			select {
			case reads <- readResult{data: buf[:n]}:
			case <-done:
				return
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				select {
				case reads <- readResult{err: err}:
				case <-done:
				}
			}

			return
		}
	}
}

// writeAll retries partial writes until the whole chunk is on the descriptor.
func writeAll(f *os.File, p []byte) error {
	for len(p) > 0 {
		n, err := f.Write(p)
		p = p[n:]
		if err != nil {
			return err
		}
	}

	return nil
}
