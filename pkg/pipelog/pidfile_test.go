// Copyright 2025 The pipelog Authors
// SPDX-License-Identifier: Apache-2.0

package pipelog

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWritePidfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "pipelog.pid")

	require.NoError(t, WritePidfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("%d\n", os.Getpid()), string(b))

	// a second instance must not steal the pidfile
	require.Error(t, WritePidfile(path))

	require.NoError(t, os.Remove(path))
	require.NoError(t, WritePidfile(path))
}
