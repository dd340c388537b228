package testutil

import (
	"bytes"
	"log"
	"os"
	"sync"
	"testing"
)

func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// LogBuffer collects log output from goroutines that outlive a single call.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CaptureLogger returns a logger writing into a LogBuffer.
func CaptureLogger(t *testing.T) (*log.Logger, *LogBuffer) {
	buf := &LogBuffer{}
	logger := TestLogger(t)
	logger.SetOutput(buf)
	return logger, buf
}
