package logx

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a zerolog logger configured for console output at the
// given level, used by cmd/posdb's --log-level flag to trade off the CLI's
// default quiet operation against tcp/create verbosity while debugging an
// ingest or merge run.
func NewLogger(level zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		short := file
		for i := len(file) - 1; i > 0; i-- {
			if file[i] == '/' {
				short = file[i+1:]
				break
			}
		}
		return fmt.Sprintf("%-28s", fmt.Sprintf("%s:%d", short, line))
	}
	logger := zerolog.New(output).Level(level).With().Timestamp().Caller().Logger()
	return logger
}

// ParseLevel parses a --log-level flag value, defaulting to info on an
// empty or unrecognized string rather than erroring, so a typo in the flag
// degrades to normal verbosity instead of aborting the command.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
