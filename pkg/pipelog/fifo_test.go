// Copyright 2025 The pipelog Authors
// SPDX-License-Identifier: Apache-2.0

package pipelog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunFifo(t *testing.T) {
	dir := t.TempDir()
	fifoPath := filepath.Join(dir, "in.fifo")
	logPath := filepath.Join(dir, "app.log")

	out, err := NewFileOutput(logPath, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- RunFifo(ctx, fifoPath, []Output{out}, Config{NoSplice: true})
	}()

	require.Eventually(t, func() bool {
		info, err := os.Lstat(fifoPath)

		return err == nil && info.Mode()&os.ModeNamedPipe != 0
	}, 5*time.Second, 10*time.Millisecond, "fifo was not created")

	// first writer: stream ends when it closes, the fifo is re-opened
	w, err := os.OpenFile(fifoPath, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = w.WriteString("first\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(logPath)

		return err == nil && string(b) == "first\n"
	}, 5*time.Second, 10*time.Millisecond)

	// second writer against the re-opened fifo; give the supervisor time to
	// finish the first invocation and block in the next open
	time.Sleep(200 * time.Millisecond)
	w, err = os.OpenFile(fifoPath, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = w.WriteString("second\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(logPath)

		return err == nil && string(b) == "first\nsecond\n"
	}, 5*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrInterrupted)
	case <-time.After(5 * time.Second):
		t.Fatal("fifo supervisor did not stop on context cancellation")
	}

	// the fifo is cleaned up on the way out
	_, err = os.Lstat(fifoPath)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunFifoRejectsNonFifo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "regular")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	out, err := NewFileOutput(filepath.Join(dir, "app.log"), "")
	require.NoError(t, err)

	err = RunFifo(context.Background(), path, []Output{out}, Config{})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInterrupted)

	// the pre-existing file is left alone
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}
