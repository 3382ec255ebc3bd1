// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// UnstructuredLogsEnv switches to human readable console output when true.
const UnstructuredLogsEnv = "UNSTRUCTURED_LOGS"

// Setup sets the global level and output. An unknown level falls back to info.
func Setup(level string, unstructured bool) {
	Configure(os.Stderr, level, unstructured || unstructuredFromEnv())
}

// Configure is Setup with an explicit writer.
func Configure(w io.Writer, level string, unstructured bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if unstructured {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

func unstructuredFromEnv() bool {
	v, err := strconv.ParseBool(os.Getenv(UnstructuredLogsEnv))
	return err == nil && v
}
