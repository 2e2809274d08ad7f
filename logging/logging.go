// Package logging configures the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

type Format string

const (
	TextFormat Format = "text"
	JSONFormat Format = "json"
)

// Configure installs the default slog handler. A nil writer logs to stderr.
func Configure(format Format, level slog.Level, writer io.Writer) error {
	if writer == nil {
		writer = os.Stderr
	}
	ho := &slog.HandlerOptions{
		Level: level,
	}
	switch format {
	case JSONFormat:
		slog.SetDefault(slog.New(slog.NewJSONHandler(writer, ho)))
	case TextFormat:
		slog.SetDefault(slog.New(slog.NewTextHandler(writer, ho)))
	default:
		return fmt.Errorf("unknown logging format: %q", format)
	}
	return nil
}
