package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger for code under test that takes an injected
// *log.Logger.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}
