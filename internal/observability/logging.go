// Package observability provides structured logging and metrics shared by
// every component of the trading gateway.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// LogLevel represents the severity level of a log entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var logLevelOrder = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
}

// LogEntry is a structured log entry.
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Service   string                 `json:"service"`
	TraceID   string                 `json:"trace_id,omitempty"`
	SpanID    string                 `json:"span_id,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Logger is a small structured logger with OpenTelemetry trace correlation.
// The gateway never logs decrypted venue credentials or plaintext secrets.
type Logger struct {
	serviceName string
	logLevel    LogLevel
	format      string // "json" or "text"
}

// NewLogger creates a logger for the named service.
func NewLogger(serviceName, logLevel, format string) *Logger {
	if logLevel == "" {
		logLevel = string(LogLevelInfo)
	}
	if format == "" {
		format = "json"
	}
	return &Logger{serviceName: serviceName, logLevel: LogLevel(logLevel), format: format}
}

func (l *Logger) Debug(ctx context.Context, message string, fields ...map[string]interface{}) {
	if l.shouldLog(LogLevelDebug) {
		l.log(ctx, LogLevelDebug, message, nil, fields...)
	}
}

func (l *Logger) Info(ctx context.Context, message string, fields ...map[string]interface{}) {
	if l.shouldLog(LogLevelInfo) {
		l.log(ctx, LogLevelInfo, message, nil, fields...)
	}
}

func (l *Logger) Warn(ctx context.Context, message string, fields ...map[string]interface{}) {
	if l.shouldLog(LogLevelWarn) {
		l.log(ctx, LogLevelWarn, message, nil, fields...)
	}
}

func (l *Logger) Error(ctx context.Context, message string, err error, fields ...map[string]interface{}) {
	if l.shouldLog(LogLevelError) {
		l.log(ctx, LogLevelError, message, err, fields...)
	}
}

func (l *Logger) log(ctx context.Context, level LogLevel, message string, err error, fields ...map[string]interface{}) {
	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Message:   message,
		Service:   l.serviceName,
	}

	if ctx != nil {
		span := trace.SpanFromContext(ctx)
		if span.SpanContext().IsValid() {
			entry.TraceID = span.SpanContext().TraceID().String()
			entry.SpanID = span.SpanContext().SpanID().String()
		}
	}

	if err != nil {
		entry.Error = err.Error()
	}

	if len(fields) > 0 {
		entry.Fields = make(map[string]interface{})
		for _, fieldMap := range fields {
			for k, v := range fieldMap {
				entry.Fields[k] = v
			}
		}
	}

	l.output(entry)
}

func (l *Logger) output(entry LogEntry) {
	if l.format == "json" {
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(os.Stdout, string(data))
		} else {
			log.Printf("failed to marshal log entry: %v", err)
		}
		return
	}
	fmt.Printf("[%s] %s %s: %s\n", entry.Timestamp, entry.Level, entry.Service, entry.Message)
}

func (l *Logger) shouldLog(level LogLevel) bool {
	configured, ok := logLevelOrder[l.logLevel]
	if !ok {
		configured = logLevelOrder[LogLevelInfo]
	}
	want, ok := logLevelOrder[level]
	if !ok {
		return false
	}
	return want >= configured
}

// PerformanceLogger records operation durations and flags those over its
// slow threshold. No other package in the gateway constructs one.
type PerformanceLogger struct {
	logger    *Logger
	threshold time.Duration
}

func NewPerformanceLogger(logger *Logger, slowThreshold time.Duration) *PerformanceLogger {
	if slowThreshold == 0 {
		slowThreshold = 100 * time.Millisecond
	}
	return &PerformanceLogger{logger: logger, threshold: slowThreshold}
}

func (pl *PerformanceLogger) LogDuration(ctx context.Context, operation string, duration time.Duration, fields ...map[string]interface{}) {
	allFields := map[string]interface{}{
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	}
	for _, m := range fields {
		for k, v := range m {
			allFields[k] = v
		}
	}
	if duration > pl.threshold {
		allFields["slow"] = true
		pl.logger.Warn(ctx, fmt.Sprintf("slow operation: %s", operation), allFields)
		return
	}
	pl.logger.Debug(ctx, fmt.Sprintf("operation completed: %s", operation), allFields)
}

// SecurityLogger records credential-access and authentication events. It
// never receives plaintext secrets — only outcomes and identifiers.
type SecurityLogger struct {
	logger *Logger
}

func NewSecurityLogger(logger *Logger) *SecurityLogger {
	return &SecurityLogger{logger: logger}
}

func (sl *SecurityLogger) LogCredentialAccess(ctx context.Context, bindingID string, success bool, reason string) {
	fields := map[string]interface{}{
		"binding_id": bindingID,
		"success":    success,
		"component":  "security",
	}
	if success {
		sl.logger.Info(ctx, "credential decrypted for dispatch", fields)
		return
	}
	fields["reason"] = reason
	sl.logger.Warn(ctx, "credential decryption failed", fields)
}

// AuditLogger records account and binding mutations for later review.
type AuditLogger struct {
	logger *Logger
}

func NewAuditLogger(logger *Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

func (al *AuditLogger) LogMutation(ctx context.Context, action, accountID, resource string, fields ...map[string]interface{}) {
	allFields := map[string]interface{}{
		"action":    action,
		"account":   accountID,
		"resource":  resource,
		"component": "audit",
	}
	for _, m := range fields {
		for k, v := range m {
			allFields[k] = v
		}
	}
	al.logger.Info(ctx, fmt.Sprintf("account mutation: %s", action), allFields)
}
