// Package logger builds the process logger: a console sink, two rotating files under the
// log directory (combined.log with every level, error.log with errors only) and an optional
// CloudWatch Logs writer.
package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Log is the global logger instance. It is a no-op until Initialize is called.
	Log = zap.NewNop()
)

// RequestIDKey is the key used to store request ID in gin and request contexts
const RequestIDKey = "request_id"

type ctxKey struct{}

// Options configures New.
type Options struct {
	// Env "production" selects JSON console output at info level; anything else is a
	// colored development console at debug level.
	Env string
	// Dir holds combined.log and error.log. Empty disables file output.
	Dir string
	// CloudWatch, when set, receives every entry as JSON.
	CloudWatch io.Writer
	// Console defaults to stdout.
	Console io.Writer
}

// New builds a logger and returns it with a func that flushes and closes the file sinks.
func New(opts Options) (*zap.Logger, func() error, error) {
	var consoleCfg zapcore.EncoderConfig
	var level zapcore.Level
	var consoleEncoder zapcore.Encoder

	if opts.Env == "production" {
		consoleCfg = zap.NewProductionEncoderConfig()
		consoleCfg.TimeKey = "timestamp"
		consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		consoleEncoder = zapcore.NewJSONEncoder(consoleCfg)
		level = zapcore.InfoLevel
	} else {
		consoleCfg = zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEncoder = zapcore.NewConsoleEncoder(consoleCfg)
		level = zapcore.DebugLevel
	}

	jsonCfg := zap.NewProductionEncoderConfig()
	jsonCfg.TimeKey = "timestamp"
	jsonCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(jsonCfg)

	var console zapcore.WriteSyncer = zapcore.Lock(os.Stdout)
	if opts.Console != nil {
		console = zapcore.AddSync(opts.Console)
	}
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, console, level),
	}
	var closers []io.Closer

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, nil, err
		}
		combined := rotatingFile(filepath.Join(opts.Dir, "combined.log"))
		errorsOnly := rotatingFile(filepath.Join(opts.Dir, "error.log"))
		closers = append(closers, combined, errorsOnly)

		cores = append(cores,
			zapcore.NewCore(jsonEncoder, zapcore.AddSync(combined), level),
			zapcore.NewCore(jsonEncoder, zapcore.AddSync(errorsOnly), zapcore.ErrorLevel),
		)
	}

	if opts.CloudWatch != nil {
		cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.AddSync(opts.CloudWatch), level))
	}

	log := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	cleanup := func() error {
		// stdout cannot be fsynced on most terminals
		_ = log.Sync()
		var err error
		for _, c := range closers {
			err = multierr.Append(err, c.Close())
		}
		return err
	}
	return log, cleanup, nil
}

// Initialize builds a logger with New and installs it as Log.
func Initialize(opts Options) (func() error, error) {
	log, cleanup, err := New(opts)
	if err != nil {
		return nil, err
	}
	Log = log
	return cleanup, nil
}

func rotatingFile(name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   name,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
}

// WithRequestID stores id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestID extracts the request ID from a gin or request context.
func RequestID(ctx context.Context) string {
	if ginCtx, ok := ctx.(*gin.Context); ok {
		if id := ginCtx.GetString(RequestIDKey); id != "" {
			return id
		}
		if ginCtx.Request == nil {
			return ""
		}
		ctx = ginCtx.Request.Context()
	}
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

// FromContext returns base with the request ID of ctx attached, if there is one.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if id := RequestID(ctx); id != "" {
		return base.With(zap.String("request_id", id))
	}
	return base
}
