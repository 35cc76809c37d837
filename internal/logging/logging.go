// Package logging builds the session logger: human-readable console
// output teed into the temporary session log, which finalize later
// copies to the cache volume.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New returns a logger writing to stderr and appending to tempLog. The
// returned closer flushes the file; the temp log must survive the
// process, so it is opened append-only and never truncated.
func New(level zerolog.Level, tempLog string) (zerolog.Logger, func(), error) {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}

	f, err := os.OpenFile(tempLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		// Nowhere to persist; still log to the console.
		log := zerolog.New(console).Level(level).With().Timestamp().Logger()
		return log, func() {}, err
	}

	w := io.MultiWriter(console, f)
	log := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return log, func() { _ = f.Sync(); _ = f.Close() }, nil
}
