// Package logger builds the shared zap logger for the dispatch binaries.
package logger

import (
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	config "github.com/meshcompute/dispatch/config/utils"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// level gates everything below Error; errors always pass through.
var level zap.AtomicLevel

// Build constructs the process logger: info and below on stdout, errors on
// stderr, level adjustable at runtime through config reloads.
func Build(cfg *config.Logger) *zap.Logger {
	parsed, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		log.Fatalf("Bad logger level %q: %v", cfg.Level, err)
	}
	level = parsed

	core := zapcore.NewTee(
		zapcore.NewCore(newEncoder(cfg), os.Stdout, zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return level.Enabled(l) && l < zapcore.ErrorLevel
		})),
		zapcore.NewCore(newEncoder(cfg), os.Stderr, zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= zapcore.ErrorLevel
		})),
	)

	built := zap.New(core, zap.AddCaller())
	zap.ReplaceGlobals(built)
	watchLevel()
	return built
}

func newEncoder(cfg *config.Logger) zapcore.Encoder {
	if cfg.Encoding == "console" {
		return zapcore.NewConsoleEncoder(cfg.EncoderConfig)
	}
	return zapcore.NewJSONEncoder(cfg.EncoderConfig)
}

// watchLevel re-applies logger.level whenever the config file changes.
func watchLevel() {
	viper.OnConfigChange(func(ev fsnotify.Event) {
		if ev.Op&fsnotify.Create == 0 {
			SetLevel(viper.GetString("logger.level"))
		}
	})
	viper.WatchConfig()
}

// SetLevel adjusts the runtime log level without restarting the process.
func SetLevel(value string) {
	parsed, err := zapcore.ParseLevel(value)
	if err != nil {
		zap.L().Error("Bad log level", zap.String("value", value), zap.Error(err))
		return
	}
	level.SetLevel(parsed)
	zap.L().Info("Log level updated", zap.String("value", value))
}
