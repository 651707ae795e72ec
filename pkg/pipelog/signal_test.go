// Copyright 2025 The pipelog Authors
// SPDX-License-Identifier: Apache-2.0

package pipelog

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignalCoordinator(t *testing.T) {
	coord, err := newSignalCoordinator()
	require.NoError(t, err)
	defer coord.stop()

	require.False(t, coord.takePending())

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGHUP))

	require.Eventually(t, func() bool {
		return coord.pending.Load()
	}, 5*time.Second, time.Millisecond)

	select {
	case <-coord.rotations():
	case <-time.After(5 * time.Second):
		t.Fatal("no rotation notification")
	}

	// consumed exactly once
	require.True(t, coord.takePending())
	require.False(t, coord.takePending())

	coord.drainWake()
	coord.drainNotify()
}
