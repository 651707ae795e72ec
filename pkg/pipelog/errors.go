// Copyright 2025 The pipelog Authors
// SPDX-License-Identifier: Apache-2.0

package pipelog

import "errors"

// ErrInterrupted reports that a blocking wait was cut short by shutdown
// (context cancellation) rather than by end of input. Callers decide whether
// that counts as a graceful stop.
var ErrInterrupted = errors.New("interrupted")

// ConfigError reports an invalid output specification, detected before any
// I/O happens.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid output config: " + e.Reason
}
