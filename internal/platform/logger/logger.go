package logger

import (
	"log/slog"
	"os"
)

// New returns the process logger. JSON on stdout keeps log shipping simple.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
