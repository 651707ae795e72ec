// Copyright 2025 The pipelog Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package pipelog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

var errSpliceUnsupported = errors.New("splice unsupported")

// runSplice moves data from input to the single output entirely in the
// kernel. It returns errSpliceUnsupported when splice cannot serve this pair
// of descriptors; no bytes have been consumed at that point and the caller
// falls back to the buffered dispatch loop for the rest of the invocation.
func (e *engine) runSplice(ctx context.Context) error {
	inFD := int(e.input.Fd())
	if err := unix.SetNonblock(inFD, true); err != nil {
		return fmt.Errorf("setting input non-blocking: %w", err)
	}

	// shutdown must interrupt the unbounded poll below
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			e.coord.wake()
		case <-stop:
		}
	}()

	out := e.outputs[0]
	st := &e.states[0]

	fallback := func() error {
		if err := unix.SetNonblock(inFD, false); err != nil {
			return fmt.Errorf("restoring blocking input: %w", err)
		}
		// drop the read-write descriptor so the dispatch loop re-opens the
		// file in append mode
		if st.file != nil && out.isFile() {
			st.file.Close() //nolint:errcheck
			st.file = nil
		}

		return errSpliceUnsupported
	}

	resolve := func(force bool) (*os.File, error) {
		file, err := st.resolve(out, time.Now(), force, openSeekEnd, e.cfg.ExitOnWriteError)
		if err != nil {
			if e.cfg.ExitOnWriteError {
				return nil, fmt.Errorf("output %s: %w", out.String(), err)
			}
			// the fast path has no other output to keep serving; hand the
			// stream to the dispatch loop, which retries failed outputs
			// per cycle
			slog.Warn("Output unavailable, leaving zero-copy path", "output", out.String(), "error", err)

			return nil, fallback()
		}

		return file, nil
	}

	for {
		if ctx.Err() != nil {
			return fmt.Errorf("waiting for input: %w", ErrInterrupted)
		}

		if e.coord.takePending() {
			if _, err := resolve(true); err != nil {
				return err
			}
		}

		fds := []unix.PollFd{
			{Fd: int32(inFD), Events: unix.POLLIN},
			{Fd: int32(e.coord.wakeR), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}

			return fmt.Errorf("waiting for input: %w", err)
		}

		if fds[1].Revents != 0 {
			e.coord.drainWake()

			continue // the pending flag is consumed at the top of the loop
		}
		if fds[0].Revents == 0 {
			continue
		}

		f, err := resolve(false)
		if err != nil {
			return err
		}

		n, err := unix.Splice(inFD, nil, int(f.Fd()), nil, spliceChunk, unix.SPLICE_F_NONBLOCK|unix.SPLICE_F_MORE)
		switch {
		case err == nil && n == 0:
			return nil // end of stream

		case err == nil:
			// n bytes moved without a user-space copy

		case errors.Is(err, unix.EAGAIN):
			// the input is still readable when the output pipe is full, so
			// re-polling the input alone would spin; wait for the output to
			// take more data first
			if err := e.waitWritable(int(f.Fd())); err != nil {
				return err
			}

		case errors.Is(err, unix.EINTR):
			// retry; a rotation request is picked up at the top of the loop

		case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOSYS):
			return fallback()

		default:
			return fmt.Errorf("splicing input to %s: %w", out.String(), err)
		}
	}
}

// waitWritable blocks until the output descriptor can take more data or a
// wakeup (rotation request or shutdown) arrives; either way the main loop
// decides what to do next.
func (e *engine) waitWritable(outFD int) error {
	for {
		fds := []unix.PollFd{
			{Fd: int32(outFD), Events: unix.POLLOUT},
			{Fd: int32(e.coord.wakeR), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}

			return fmt.Errorf("waiting for output: %w", err)
		}

		if fds[1].Revents != 0 {
			e.coord.drainWake()
		}

		return nil
	}
}
