package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/platinummonkey/portalfs/pkg/contextkeys"
)

// LogLevel is the severity of a log line
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[LogLevel]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return levelNames[InfoLevel]
}

// ParseLevel maps a level name to a LogLevel. Unknown names are InfoLevel.
func ParseLevel(level string) LogLevel {
	name := strings.ToUpper(strings.TrimSpace(level))
	if name == "WARNING" {
		return WarnLevel
	}
	for l, n := range levelNames {
		if n == name {
			return l
		}
	}
	return InfoLevel
}

func (l LogLevel) slog() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Logger writes JSON lines through slog. Loggers derived with WithField
// share their parent's level, so SetLevel on the root reaches all of them.
type Logger struct {
	handler *slog.Logger
	level   *slog.LevelVar
}

// NewLogger creates a JSON logger writing to output, or stdout when nil
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	lv := new(slog.LevelVar)
	lv.Set(level.slog())
	return &Logger{
		handler: slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: lv})),
		level:   lv,
	}
}

// SetLevel changes the level of this logger and every logger derived from it
func (l *Logger) SetLevel(level LogLevel) { l.level.Set(level.slog()) }

// Enabled reports whether messages at level would be written
func (l *Logger) Enabled(level LogLevel) bool {
	return level.slog() >= l.level.Level()
}

func (l *Logger) with(args ...interface{}) *Logger {
	return &Logger{handler: l.handler.With(args...), level: l.level}
}

// WithField returns a logger that adds key to every line
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.with(key, value)
}

// WithFields returns a logger that adds every entry of fields to each line
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return l.with(args...)
}

// WithError adds err as the "error" field; a nil err returns l unchanged
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

func (l *Logger) log(level LogLevel, msg string) {
	l.handler.Log(context.Background(), level.slog(), msg)
}

func (l *Logger) logf(level LogLevel, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	l.log(level, fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(msg string) { l.log(DebugLevel, msg) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.logf(DebugLevel, format, args...) }
func (l *Logger) Info(msg string) { l.log(InfoLevel, msg) }
func (l *Logger) Infof(format string, args ...interface{}) { l.logf(InfoLevel, format, args...) }
func (l *Logger) Warn(msg string) { l.log(WarnLevel, msg) }
func (l *Logger) Warnf(format string, args ...interface{}) { l.logf(WarnLevel, format, args...) }
func (l *Logger) Error(msg string) { l.log(ErrorLevel, msg) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.logf(ErrorLevel, format, args...) }

// WithLogger stores logger in ctx
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return contextkeys.WithLogger(ctx, logger)
}

// GetLogger returns the logger stored in ctx, or a stdout logger at InfoLevel
func GetLogger(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(contextkeys.LoggerKey).(*Logger); ok {
		return logger
	}
	return NewLogger(InfoLevel, os.Stdout)
}

// FromContext is GetLogger tagged with the request, caller and trace of ctx
func FromContext(ctx context.Context) *Logger {
	logger := GetLogger(ctx)
	fields := map[string]interface{}{}
	if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
		fields["request_id"] = requestID
	}
	if userID := contextkeys.GetUserID(ctx); userID != "" {
		fields["user_id"] = userID
	}
	if len(fields) > 0 {
		logger = logger.WithFields(fields)
	}
	return UpdateLoggerWithTraceContext(ctx, logger)
}

// LoggingMiddleware puts logger in the request context and writes one
// access line per request: ERROR for 5xx, DEBUG otherwise
func LoggingMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r.WithContext(WithLogger(r.Context(), logger)))

			fields := map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rw.statusCode,
				"bytes":       rw.bytesWritten,
				"duration_ms": time.Since(start).Milliseconds(),
			}
			if requestID := contextkeys.GetRequestID(r.Context()); requestID != "" {
				fields["request_id"] = requestID
			}

			entry := logger.WithFields(fields)
			if rw.statusCode >= http.StatusInternalServerError {
				entry.Error("request failed")
				return
			}
			entry.Debug("request served")
		})
	}
}
