package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Veraticus/gridveg-dates/internal/model"
)

// InterruptHandler cancels a correction run on SIGINT or SIGTERM and tells
// the operator what state the warehouse was left in.
type InterruptHandler struct {
	writer      io.Writer
	signals     chan os.Signal
	stage       model.Stage
	interrupted bool
	mu          sync.Mutex
}

// NewInterruptHandler creates a new interrupt handler.
func NewInterruptHandler(writer io.Writer) *InterruptHandler {
	if writer == nil {
		writer = os.Stdout
	}
	return &InterruptHandler{
		writer:  writer,
		signals: make(chan os.Signal, 1),
		stage:   model.StageIdle,
	}
}

// HandleInterrupts sets up signal handling and returns a context that is
// canceled on interrupt. Signal delivery stops once ctx is done.
func (h *InterruptHandler) HandleInterrupts(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signal.Notify(h.signals, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(h.signals)
		select {
		case <-h.signals:
			h.mu.Lock()
			if !h.interrupted {
				h.interrupted = true
				h.showInterruptMessage()
			}
			h.mu.Unlock()
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx
}

// SetStage records the stage the run has reached. It is meant to be wired to
// the engine's transition callback.
func (h *InterruptHandler) SetStage(stage model.Stage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stage = stage
}

func (h *InterruptHandler) showInterruptMessage() {
	msg := "\n\n" + FormatWarning("Correction interrupted!")

	switch h.stage {
	case model.StageBackupCreated:
		msg += "\n" + FormatInfo("Backup is in place. An update that already started runs to completion.")
	case model.StageApplied:
		msg += "\n" + FormatInfo("The update is committed. Finishing validation before exit.")
	default:
		msg += "\n" + FormatInfo("Stopped before apply. No changes were made to the warehouse.")
	}

	if _, err := fmt.Fprintln(h.writer, msg); err != nil {
		// Best effort - we're shutting down anyway
		fmt.Fprintf(os.Stderr, "Failed to write interrupt message: %v\n", err)
	}
}

// WasInterrupted returns true if the process was interrupted.
func (h *InterruptHandler) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}
