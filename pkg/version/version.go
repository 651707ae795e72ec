// Copyright 2025 The pipelog Authors
// SPDX-License-Identifier: Apache-2.0

package version

// Version is overridden at build time via ldflags.
var Version = "(devel)"
