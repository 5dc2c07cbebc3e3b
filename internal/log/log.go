// Package log provides structured, colored logging for the BlockMed client
// and the local devnet ledger.
package log

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Logger is the global logger instance.
var Logger = New(os.Stderr, "info", false)

var (
	fileMu sync.Mutex
	file   *os.File // current log file, closed on re-Init
)

// Init replaces the global logger. Console output goes to stderr, colored
// unless jsonOutput is set. A non-empty path additionally appends JSON
// lines to that file.
func Init(level string, jsonOutput bool, path string) error {
	fileMu.Lock()
	defer fileMu.Unlock()

	var f *os.File
	if path != "" {
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
	}

	console := consoleWriter(os.Stderr, jsonOutput)
	if f != nil {
		Logger = build(zerolog.MultiLevelWriter(console, f), level)
	} else {
		Logger = build(console, level)
	}

	if file != nil {
		file.Close()
	}
	file = f
	return nil
}

// New returns a logger writing to w, JSON when jsonOutput is set and
// human-readable otherwise.
func New(w io.Writer, level string, jsonOutput bool) zerolog.Logger {
	return build(consoleWriter(w, jsonOutput), level)
}

func build(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
}

// consoleWriter colors output only when w is a terminal.
func consoleWriter(w io.Writer, jsonOutput bool) io.Writer {
	if jsonOutput {
		return w
	}
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05", NoColor: !color}
}

// parseLevel accepts zerolog level names plus "off". Unknown names log at
// info.
func parseLevel(level string) zerolog.Level {
	switch level {
	case "off":
		return zerolog.Disabled
	case "":
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// WithComponent returns a logger with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithChainID returns a logger with a chain_id field.
func WithChainID(chainID uint64) zerolog.Logger {
	return Logger.With().Uint64("chain_id", chainID).Logger()
}
