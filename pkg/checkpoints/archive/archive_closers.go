package archive

import (
	"io"

	"github.com/hashicorp/go-multierror"
)

// archiveClosers is the stack of writers layered under an archive, innermost first.
type archiveClosers struct {
	closers []io.Closer
}

// Close closes the stack outermost first so each layer flushes into the one below it. Every layer
// is closed even if an earlier one fails.
func (ac *archiveClosers) Close() error {
	var result *multierror.Error
	for i := len(ac.closers) - 1; i >= 0; i-- {
		if err := ac.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// delayWriter holds back output until limit bytes are pending, so an HTTP status is not committed
// before some of the archive has been produced successfully.
type delayWriter struct {
	next    io.Writer
	pending []byte
	limit   int
	flushed bool
}

func newDelayWriter(w io.Writer, limit int) *delayWriter {
	return &delayWriter{next: w, pending: make([]byte, 0, limit), limit: limit}
}

func (w *delayWriter) Write(p []byte) (int, error) {
	if w.flushed {
		return w.next.Write(p)
	}
	w.pending = append(w.pending, p...)
	if len(w.pending) >= w.limit {
		if err := w.flush(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (w *delayWriter) flush() error {
	w.flushed = true
	pending := w.pending
	w.pending = nil
	if len(pending) == 0 {
		return nil
	}
	_, err := w.next.Write(pending)
	return err
}

// Close writes whatever is still pending.
func (w *delayWriter) Close() error {
	if w.flushed {
		return nil
	}
	return w.flush()
}
