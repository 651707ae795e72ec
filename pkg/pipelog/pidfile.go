// Copyright 2025 The pipelog Authors
// SPDX-License-Identifier: Apache-2.0

package pipelog

import (
	"fmt"
	"os"
)

// WritePidfile creates path exclusively and writes the current process ID
// into it. An existing file fails the call: another instance is, or was,
// using it.
func WritePidfile(path string) error {
	if err := ensureParentDirs(path); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating pidfile %q: %w", path, err)
	}

	_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("writing pidfile %q: %w", path, werr)
	}
	if cerr != nil {
		return fmt.Errorf("closing pidfile %q: %w", path, cerr)
	}

	return nil
}
