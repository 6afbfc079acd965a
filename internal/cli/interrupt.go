package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InterruptHandler cancels a batch on SIGINT or SIGTERM and tells the user
// that the current chunk is still being finished.
type InterruptHandler struct {
	writer      io.Writer
	cancelFunc  context.CancelFunc
	stop        chan struct{}
	interrupted bool
	mu          sync.Mutex
	stopOnce    sync.Once
}

// NewInterruptHandler creates a handler that writes its notice to writer.
func NewInterruptHandler(writer io.Writer) *InterruptHandler {
	if writer == nil {
		writer = os.Stderr
	}
	return &InterruptHandler{
		writer: writer,
		stop:   make(chan struct{}),
	}
}

// HandleInterrupts returns a context that is cancelled on the first interrupt.
// Call Stop once the batch has finished to release the signal handler.
func (h *InterruptHandler) HandleInterrupts(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	h.cancelFunc = cancel

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			h.interrupt()
		case <-ctx.Done():
		case <-h.stop:
		}
	}()

	return ctx
}

// Stop releases the signal handler without cancelling.
func (h *InterruptHandler) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// WasInterrupted reports whether an interrupt was received.
func (h *InterruptHandler) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}

func (h *InterruptHandler) interrupt() {
	h.mu.Lock()
	first := !h.interrupted
	h.interrupted = true
	h.mu.Unlock()

	if first {
		h.showInterruptMessage()
	}
	if h.cancelFunc != nil {
		h.cancelFunc()
	}
}

func (h *InterruptHandler) showInterruptMessage() {
	msg := "\n\n" + FormatWarning("Batch interrupted!") +
		"\n" + FormatInfo("Finishing the records already in flight; results so far are saved.") +
		"\n" + FormatInfo("Run the batch again to pick up the remaining records.") + "\n"

	if _, err := fmt.Fprint(h.writer, msg); err != nil {
		slog.Warn("Failed to write interrupt message", "error", err)
	}
}
