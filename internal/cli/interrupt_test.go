package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewInterruptHandler(t *testing.T) {
	tests := []struct {
		writer io.Writer
		name   string
	}{
		{name: "with custom writer", writer: &bytes.Buffer{}},
		{name: "with nil writer", writer: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewInterruptHandler(tt.writer)
			assert.NotNil(t, handler.writer)
			assert.False(t, handler.WasInterrupted())
		})
	}
}

func TestInterrupt_CancelsContext(t *testing.T) {
	var output bytes.Buffer
	handler := NewInterruptHandler(&output)
	ctx := handler.HandleInterrupts(context.Background())
	defer handler.Stop()

	handler.interrupt()

	<-ctx.Done()
	assert.True(t, handler.WasInterrupted())
	assert.Contains(t, output.String(), "Batch interrupted!")
	assert.Contains(t, output.String(), "Run the batch again")
}

func TestInterrupt_MessageShownOnce(t *testing.T) {
	var output bytes.Buffer
	handler := NewInterruptHandler(&output)
	_ = handler.HandleInterrupts(context.Background())
	defer handler.Stop()

	handler.interrupt()
	handler.interrupt()

	assert.Equal(t, 1, strings.Count(output.String(), "Batch interrupted!"))
}

func TestStop_LeavesContextActive(t *testing.T) {
	handler := NewInterruptHandler(&bytes.Buffer{})
	ctx := handler.HandleInterrupts(context.Background())

	handler.Stop()
	handler.Stop()

	assert.NoError(t, ctx.Err())
	assert.False(t, handler.WasInterrupted())
}
