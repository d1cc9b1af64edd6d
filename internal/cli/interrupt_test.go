package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/gridveg-dates/internal/model"
)

// syncBuffer provides thread-safe access to a bytes.Buffer.
type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (s *syncBuffer) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestNewInterruptHandler(t *testing.T) {
	tests := []struct {
		writer io.Writer
		name   string
	}{
		{
			name:   "with custom writer",
			writer: &bytes.Buffer{},
		},
		{
			name:   "with nil writer",
			writer: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewInterruptHandler(tt.writer)
			assert.NotNil(t, handler)
			assert.NotNil(t, handler.writer)
			assert.False(t, handler.interrupted)
			assert.Equal(t, model.StageIdle, handler.stage)
		})
	}
}

func TestHandleInterrupts(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)

	ctx := handler.HandleInterrupts(context.Background())

	select {
	case <-ctx.Done():
		t.Fatal("Context should not be canceled initially")
	default:
	}

	handler.signals <- os.Interrupt

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("Context should be canceled after an interrupt")
	}

	assert.True(t, handler.WasInterrupted())
	outputStr := output.String()
	assert.Contains(t, outputStr, "Correction interrupted!")
	assert.Contains(t, outputStr, "No changes were made")
}

func TestHandleInterrupts_ParentCanceled(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)

	parent, cancel := context.WithCancel(context.Background())
	ctx := handler.HandleInterrupts(parent)
	cancel()

	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)

	assert.False(t, handler.WasInterrupted())
	assert.Empty(t, output.String())
}

func TestMultipleInterrupts(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)

	ctx := handler.HandleInterrupts(context.Background())
	handler.signals <- os.Interrupt
	<-ctx.Done()

	// The watcher has exited; a second signal only fills the buffer.
	select {
	case handler.signals <- os.Interrupt:
	default:
	}
	time.Sleep(20 * time.Millisecond)

	count := strings.Count(output.String(), "Correction interrupted!")
	assert.Equal(t, 1, count, "Interrupt message should only be shown once")
}

func TestShowInterruptMessage(t *testing.T) {
	tests := []struct {
		name        string
		stage       model.Stage
		expected    []string
		notExpected []string
	}{
		{
			name:        "before backup",
			stage:       model.StagePreviewGenerated,
			expected:    []string{"Correction interrupted!", "No changes were made"},
			notExpected: []string{"committed"},
		},
		{
			name:        "after backup",
			stage:       model.StageBackupCreated,
			expected:    []string{"Correction interrupted!", "Backup is in place"},
			notExpected: []string{"No changes were made"},
		},
		{
			name:        "after apply",
			stage:       model.StageApplied,
			expected:    []string{"Correction interrupted!", "The update is committed"},
			notExpected: []string{"No changes were made"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var output bytes.Buffer
			handler := NewInterruptHandler(&output)
			handler.SetStage(tt.stage)

			handler.showInterruptMessage()

			outputStr := output.String()
			for _, expected := range tt.expected {
				assert.Contains(t, outputStr, expected)
			}
			for _, notExpected := range tt.notExpected {
				assert.NotContains(t, outputStr, notExpected)
			}
		})
	}
}

func TestSetStage(t *testing.T) {
	handler := NewInterruptHandler(&bytes.Buffer{})
	handler.SetStage(model.StageApplied)
	require.Equal(t, model.StageApplied, handler.stage)
}
