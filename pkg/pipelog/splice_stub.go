// Copyright 2025 The pipelog Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package pipelog

import (
	"context"
	"errors"
)

var errSpliceUnsupported = errors.New("splice unsupported")

// Zero-copy transfer is Linux-only; everywhere else the single-output case
// degenerates to a dispatch loop of one.
func (e *engine) runSplice(context.Context) error {
	return errSpliceUnsupported
}
