// Copyright 2025 The pipelog Authors
// SPDX-License-Identifier: Apache-2.0

package pipelog

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/samber/lo"
)

// Output is one sink for the multiplexed input stream: either a caller-owned
// descriptor (never rotated, never closed by the engine) or a file path whose
// name may contain strftime placeholders, optionally paired with a "latest"
// symlink. The zero value is invalid; use NewFDOutput or NewFileOutput.
type Output struct {
	file    *os.File
	pattern string
	format  *strftime.Strftime // nil when the name is fixed
	link    string
}

// NewFDOutput wraps a pre-opened descriptor like stdout or stderr.
func NewFDOutput(f *os.File) (Output, error) {
	if f == nil {
		return Output{}, &ConfigError{Reason: "descriptor output requires an open file"}
	}

	return Output{file: f}, nil
}

// NewFileOutput describes a log file at pattern, which may contain strftime
// placeholders. If link is non-empty a symlink at that path is kept pointing
// at the most recently opened file.
func NewFileOutput(pattern, link string) (Output, error) {
	if pattern == "" {
		return Output{}, &ConfigError{Reason: "file pattern may not be empty"}
	}

	out := Output{pattern: pattern, link: link}

	if strings.ContainsRune(pattern, '%') {
		format, err := strftime.New(pattern)
		if err != nil {
			return Output{}, &ConfigError{Reason: fmt.Sprintf("pattern %q: %v", pattern, err)}
		}
		out.format = format
	}

	return out, nil
}

func (o Output) isFile() bool {
	return o.pattern != ""
}

// formatName renders the file name for the given local time. Fixed names
// pass through unchanged.
func (o Output) formatName(now time.Time) string {
	if o.format == nil {
		return o.pattern
	}

	return o.format.FormatString(now)
}

func (o Output) String() string {
	if o.isFile() {
		return o.pattern
	}
	if o.file != nil {
		return o.file.Name()
	}

	return "<invalid>"
}

func (o Output) validate() error {
	if o.file == nil && o.pattern == "" {
		return &ConfigError{Reason: "output has neither a descriptor nor a file pattern"}
	}
	if o.file != nil && o.pattern != "" {
		return &ConfigError{Reason: "output cannot combine a descriptor with a file pattern"}
	}
	if o.file != nil && o.link != "" {
		return &ConfigError{Reason: "only a file output may carry a link"}
	}

	return nil
}

var stdoutTokens = []string{"STDOUT", "-"}

// ParseOutputs turns the positional CLI arguments into output specs. Each
// argument is "STDOUT" (or its shorthand "-"), "STDERR", or a file path; a
// path may be followed by "@LINK" naming the latest-file symlink.
func ParseOutputs(args []string) ([]Output, error) {
	if len(args) == 0 {
		return nil, &ConfigError{Reason: "at least one output is required"}
	}

	outputs := make([]Output, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch {
		case arg == "":
			return nil, &ConfigError{Reason: "FILE may not be an empty string"}

		case strings.HasPrefix(arg, "@"):
			return nil, &ConfigError{Reason: fmt.Sprintf("link %q must follow a file path", arg)}

		case lo.Contains(stdoutTokens, arg) || arg == "STDERR":
			if i+1 < len(args) && strings.HasPrefix(args[i+1], "@") {
				return nil, &ConfigError{Reason: "only a file path may be followed by @LINK"}
			}

			out, err := NewFDOutput(lo.Ternary(arg == "STDERR", os.Stderr, os.Stdout))
			if err != nil {
				return nil, err
			}
			outputs = append(outputs, out)

		default:
			link := ""
			if i+1 < len(args) && strings.HasPrefix(args[i+1], "@") {
				link = strings.TrimPrefix(args[i+1], "@")
				if link == "" {
					return nil, &ConfigError{Reason: "LINK may not be an empty string"}
				}
				i++
			}

			out, err := NewFileOutput(arg, link)
			if err != nil {
				return nil, err
			}
			outputs = append(outputs, out)
		}
	}

	return outputs, nil
}
