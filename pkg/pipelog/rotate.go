// Copyright 2025 The pipelog Authors
// SPDX-License-Identifier: Apache-2.0

package pipelog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

type openMode int

const (
	// openAppend is used by the dispatch loop: write-only with O_APPEND.
	openAppend openMode = iota
	// openSeekEnd is used by the zero-copy path: splice cannot write through
	// an O_APPEND descriptor, so the file is opened read-write and the
	// position moved to the end manually.
	openSeekEnd
)

// outputState tracks the open descriptor and the last formatted name of one
// output for the lifetime of a single engine invocation. Descriptors opened
// here are engine-owned; borrowed ones (descriptor outputs) are not recorded.
type outputState struct {
	file     *os.File
	name     string
	disabled bool // descriptor output hit a hard write error
}

// resolve returns a valid descriptor for out, rotating first if nothing is
// open yet, the time-formatted name changed, or force is set. exitOnErr
// escalates link-maintenance failures to fail the whole rotation.
func (st *outputState) resolve(out Output, now time.Time, force bool, mode openMode, exitOnErr bool) (*os.File, error) {
	if !out.isFile() {
		if st.disabled {
			return nil, nil
		}

		return out.file, nil
	}

	name := out.formatName(now)
	newName := name != st.name

	if st.file != nil && !newName && !force {
		return st.file, nil
	}

	if st.file != nil {
		if err := st.file.Close(); err != nil {
			slog.Warn("Closing rotated log file", "file", st.name, "error", err)
		}
		st.file = nil
	}
	st.name = name

	f, err := openLogFile(name, mode)
	if err != nil {
		return nil, err
	}

	if newName && out.link != "" {
		if err := maintainLink(name, out.link); err != nil {
			if exitOnErr {
				f.Close() //nolint:errcheck
				return nil, err
			}
			slog.Warn("Updating latest link", "link", out.link, "error", err)
		}
	}

	st.file = f

	return f, nil
}

// openLogFile opens (creating if needed) the log file at name. A missing
// ancestor directory is created once and the open retried, matching rotation
// into a not-yet-existing dated directory.
func openLogFile(name string, mode openMode) (*os.File, error) {
	flag := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if mode == openSeekEnd {
		flag = os.O_CREATE | os.O_RDWR
	}

	f, err := os.OpenFile(name, flag, 0o644)
	if errors.Is(err, os.ErrNotExist) {
		if mkErr := ensureParentDirs(name); mkErr != nil {
			return nil, mkErr
		}
		f, err = os.OpenFile(name, flag, 0o644)
	}
	if err != nil {
		return nil, fmt.Errorf("opening log file %q: %w", name, err)
	}

	if mode == openSeekEnd {
		// ESPIPE is fine: the destination may itself be a fifo
		if _, err := f.Seek(0, io.SeekEnd); err != nil && !errors.Is(err, unix.ESPIPE) {
			f.Close() //nolint:errcheck

			return nil, fmt.Errorf("seeking to end of %q: %w", name, err)
		}
	}

	return f, nil
}

// ensureParentDirs creates all missing ancestor directories of path,
// tolerating the ones that already exist.
func ensureParentDirs(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating parent directories of %q: %w", path, err)
	}

	return nil
}

// maintainLink points link at the absolute canonical path of name, replacing
// whatever the link pointed at before. A missing previous link is not an
// error.
func maintainLink(name, link string) error {
	if err := ensureParentDirs(link); err != nil {
		return err
	}

	if err := os.Remove(link); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing previous link %q: %w", link, err)
	}

	target, err := filepath.Abs(name)
	if err == nil {
		target, err = filepath.EvalSymlinks(target)
	}
	if err != nil {
		return fmt.Errorf("resolving %q: %w", name, err)
	}

	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("creating link %q: %w", link, err)
	}

	return nil
}
