// Package iox provides I/O helpers for response bodies and cleanup.
package iox

import (
	"context"
	"io"
	"sync"
)

// drainLimit caps how much of an unread body DrainClose consumes.
const drainLimit = 64 * 1024

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(f)
func DiscardClose(c io.Closer) { _ = c.Close() }

// DrainClose reads what is left of a response body (up to 64 KiB) so the
// connection can be reused, then closes it.
//
//	defer iox.DrainClose(resp.Body)
func DrainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, drainLimit))
	_ = rc.Close()
}

// CloseFunc returns a cleanup function that closes c.
// Designed for t.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(client))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and discards the returned error.
// Use for non-Close cleanup calls (e.g. Sync) where errors are unactionable:
//
//	defer iox.DiscardErr(logger.Sync)
func DiscardErr(fn func() error) { _ = fn() }

// CloseOnDone closes c when ctx is done, unblocking any pending Read.
// The returned stop func releases the watcher and waits for it to exit; it
// reports true if c was closed because of ctx. Once stop returns, Close is
// never called. Safe to call more than once.
func CloseOnDone(ctx context.Context, c io.Closer) (stop func() bool) {
	done := make(chan struct{})
	exited := make(chan struct{})
	var (
		once   sync.Once
		closed bool
	)

	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			select {
			case <-done:
				return
			default:
			}
			closed = true
			_ = c.Close()
		case <-done:
		}
	}()

	return func() bool {
		once.Do(func() { close(done) })
		<-exited
		return closed
	}
}
