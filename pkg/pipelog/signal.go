// Copyright 2025 The pipelog Authors
// SPDX-License-Identifier: Apache-2.0

package pipelog

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// RotateSignal forces all file outputs to close and re-open, even when their
// formatted name is unchanged.
const RotateSignal = syscall.SIGHUP

// signalCoordinator owns the process-wide rotation request flag. The handler
// goroutine is the only writer; the engine loop is the only consumer and
// clears the flag exactly once per cycle, so a request delivered mid-cycle is
// acted on at the next cycle boundary and can never tear a write in progress.
type signalCoordinator struct {
	pending atomic.Bool
	notify  chan struct{}
	sigs    chan os.Signal
	done    chan struct{}
	stopped chan struct{}

	// wake pipe for the poll-based fast path: one byte per wakeup request so
	// an unbounded poll on the input returns
	mu     sync.Mutex
	closed bool
	wakeR  int
	wakeW  int
}

func newSignalCoordinator() (*signalCoordinator, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, fmt.Errorf("creating signal wake pipe: %w", err)
	}

	c := &signalCoordinator{
		notify:  make(chan struct{}, 1),
		sigs:    make(chan os.Signal, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		wakeR:   p[0],
		wakeW:   p[1],
	}

	signal.Notify(c.sigs, RotateSignal)
	go c.run()

	return c, nil
}

func (c *signalCoordinator) run() {
	defer close(c.stopped)

	for {
		select {
		case <-c.done:
			return
		case <-c.sigs:
			c.pending.Store(true)
			select {
			case c.notify <- struct{}{}:
			default:
			}
			c.wake()
		}
	}
}

// wake makes a blocked poll on the wake pipe return. EAGAIN means a wakeup
// is already queued, which is just as good.
func (c *signalCoordinator) wake() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		unix.Write(c.wakeW, []byte{0}) //nolint:errcheck
	}
}

func (c *signalCoordinator) stop() {
	signal.Stop(c.sigs)
	close(c.done)
	<-c.stopped

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	unix.Close(c.wakeW) //nolint:errcheck
	unix.Close(c.wakeR) //nolint:errcheck
}

// takePending consumes a pending rotation request, if any.
func (c *signalCoordinator) takePending() bool {
	return c.pending.Swap(false)
}

// rotations carries at most one queued rotation notification.
func (c *signalCoordinator) rotations() <-chan struct{} {
	return c.notify
}

// drainNotify clears a queued notification without acting on it, used when
// switching transfer strategies so a consumed request is not replayed.
func (c *signalCoordinator) drainNotify() {
	select {
	case <-c.notify:
	default:
	}
}

// drainWake empties the wake pipe after a poll reported it readable.
func (c *signalCoordinator) drainWake() {
	var buf [16]byte
	for {
		n, err := unix.Read(c.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}
