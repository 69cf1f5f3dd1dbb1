// Package logging configures the global zerolog logger: console output plus
// an optional rotating file next to the store.
package logging

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultLogFile    = "entstore.log"
	DefaultMaxSizeMB  = 20
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 30
)

// Setup applies the verbosity level and output writers. verbosity counts -v
// flags: 0 info, 1 debug, 2+ trace. When logFile is empty, logging goes to
// the console only.
func Setup(verbosity int, logFile string) {
	switch verbosity {
	case 0:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case 1:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}
	log.Logger = zerolog.New(console).With().Timestamp().Logger()

	if logFile == "" {
		return
	}
	if err := ensureLogDir(logFile); err != nil {
		log.Error().Err(err).Str("path", logFile).Msg("Failed to prepare log directory; logging to console only")
		return
	}

	fileWriter := zerolog.ConsoleWriter{
		Out: &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    DefaultMaxSizeMB,
			MaxBackups: DefaultMaxBackups,
			MaxAge:     DefaultMaxAgeDays,
			Compress:   true,
		},
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}

	multi := zerolog.MultiLevelWriter(console, fileWriter)
	log.Logger = zerolog.New(multi).With().Timestamp().Logger()
}

// FilePathForStore returns a log file path alongside the store directory.
func FilePathForStore(dataDir string) string {
	if dataDir == "" {
		return DefaultLogFile
	}
	return filepath.Join(dataDir, DefaultLogFile)
}

func ensureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
