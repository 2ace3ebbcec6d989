package logs

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/1mcp-ai/1mcp/internal/config"
)

// Log level names accepted by config.LogConfig.Level.
const (
	LevelTrace = "trace"
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// DefaultLogConfig returns a console-only, human-readable configuration,
// the shape cmd/1mcp falls back to when no log flags are given.
func DefaultLogConfig() *config.LogConfig {
	return &config.LogConfig{
		Level:         LevelInfo,
		EnableConsole: true,
		Filename:      "main.log",
		MaxSize:       10,
		MaxBackups:    5,
		MaxAge:        30,
		Compress:      true,
	}
}

func parseLevel(name string) zapcore.Level {
	switch name {
	case LevelTrace, LevelDebug:
		// trace maps to zap's debug level; zap has no separate trace tier.
		return zap.DebugLevel
	case LevelWarn:
		return zap.WarnLevel
	case LevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// SetupLogger builds a *zap.Logger from cfg, wiring a console core and/or a
// lumberjack-rotated file core depending on which outputs are enabled, both
// wrapped in SecretSanitizer so a token that ends up in an outbound
// server's stdout or an HTTP header never reaches disk unmasked.
func SetupLogger(cfg *config.LogConfig) (*zap.Logger, error) {
	if cfg == nil {
		cfg = DefaultLogConfig()
	}
	level := parseLevel(cfg.Level)

	var cores []zapcore.Core
	if cfg.EnableConsole {
		cores = append(cores, zapcore.NewCore(consoleEncoder(), zapcore.AddSync(os.Stderr), level))
	}
	if cfg.EnableFile {
		fileCore, err := newFileCore(cfg, level)
		if err != nil {
			return nil, fmt.Errorf("logs: build file core: %w", err)
		}
		cores = append(cores, fileCore)
	}
	if len(cores) == 0 {
		return nil, fmt.Errorf("logs: no outputs enabled")
	}

	core := NewSecretSanitizer(zapcore.NewTee(cores...))
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)), nil
}

// SetupCommandLogger builds a logger for a cobra command. serverCommand
// picks the default verbosity when logLevel is empty: "serve" defaults to
// info, every other command defaults to warn so routine CLI usage stays
// quiet.
func SetupCommandLogger(serverCommand bool, logLevel string, logToFile bool, logDir string) (*zap.Logger, error) {
	level := LevelWarn
	if serverCommand {
		level = LevelInfo
	}
	if logLevel != "" {
		level = logLevel
	}

	cfg := DefaultLogConfig()
	cfg.Level = level
	cfg.EnableFile = logToFile
	cfg.LogDir = logDir
	return SetupLogger(cfg)
}

func newFileCore(cfg *config.LogConfig, level zapcore.Level) (zapcore.Core, error) {
	path, err := GetLogFilePathWithDir(cfg.LogDir, cfg.Filename)
	if err != nil {
		return nil, err
	}

	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	encoder := fileEncoder()
	if cfg.JSONFormat {
		encoder = jsonEncoder()
	}
	return zapcore.NewCore(encoder, zapcore.AddSync(writer), level), nil
}

func consoleEncoder() zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func fileEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.ConsoleSeparator = " | "
	return zapcore.NewConsoleEncoder(cfg)
}

func jsonEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewJSONEncoder(cfg)
}
