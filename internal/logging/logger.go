// Package logging provides categorized file-based logging for DataHerd.
// Logs are written to <data dir>/logs/ with separate files per category.
// Logging is a silent no-op unless enabled through Initialize.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup and config
	CategoryCompiler Category = "compiler" // NL -> rule compilation
	CategoryLLM      Category = "llm"      // LLM API calls
	CategoryEngine   Category = "engine"   // Evaluation, preview, apply
	CategoryStore    Category = "store"    // Rule and record persistence
	CategoryLedger   Category = "ledger"   // Snapshots, rollback, audit log
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Options controls logging behavior, set once at startup.
type Options struct {
	Enabled    bool
	Level      string // debug, info, warn, error
	JSONFormat bool
}

// StructuredLogEntry is the JSON log line format.
type StructuredLogEntry struct {
	Timestamp int64                  `json:"ts"` // Unix milliseconds
	Category  string                 `json:"cat"`
	Level     string                 `json:"lvl"`
	Message   string                 `json:"msg"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	opts      Options
	optsMu    sync.RWMutex
	logLevel  int
)

// Initialize sets up the logging directory. Should be called once at startup
// with the resolved data directory and config-derived options.
func Initialize(dataDir string, o Options) error {
	optsMu.Lock()
	opts = o
	switch o.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	optsMu.Unlock()

	if !o.Enabled {
		return nil
	}
	if dataDir == "" {
		return fmt.Errorf("data directory required")
	}
	logsDir = filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== DataHerd logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", o.Level)
	return nil
}

func enabled() bool {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return opts.Enabled
}

func jsonFormat() bool {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return opts.JSONFormat
}

// Get returns (or creates) a logger for the given category. Returns a no-op
// logger when logging is disabled.
func Get(category Category) *Logger {
	if !enabled() || logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation a matter of deleting old files.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

func (l *Logger) logJSON(level, msg string) {
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}
	l.logger.Printf("%s", data)
}

func (l *Logger) write(level int, tag, format string, args ...interface{}) {
	if l.logger == nil || logLevel > level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if jsonFormat() {
		l.logJSON(tag, msg)
	} else {
		l.logger.Printf("[%s] %s", tag, msg)
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "DEBUG", format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "INFO", format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "WARN", format, args...)
}

// Error logs an error message (always written if the logger exists).
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "ERROR", format, args...)
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Convenience functions: quick logging without fetching a logger first.
// These are no-ops when logging is disabled.

// Boot logs to the boot category.
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// Compiler logs to the compiler category.
func Compiler(format string, args ...interface{}) { Get(CategoryCompiler).Info(format, args...) }

// CompilerDebug logs debug to the compiler category.
func CompilerDebug(format string, args ...interface{}) { Get(CategoryCompiler).Debug(format, args...) }

// LLM logs to the llm category.
func LLM(format string, args ...interface{}) { Get(CategoryLLM).Info(format, args...) }

// LLMDebug logs debug to the llm category.
func LLMDebug(format string, args ...interface{}) { Get(CategoryLLM).Debug(format, args...) }

// Engine logs to the engine category.
func Engine(format string, args ...interface{}) { Get(CategoryEngine).Info(format, args...) }

// EngineDebug logs debug to the engine category.
func EngineDebug(format string, args ...interface{}) { Get(CategoryEngine).Debug(format, args...) }

// Store logs to the store category.
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs debug to the store category.
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// Ledger logs to the ledger category.
func Ledger(format string, args ...interface{}) { Get(CategoryLedger).Info(format, args...) }

// LedgerDebug logs debug to the ledger category.
func LedgerDebug(format string, args ...interface{}) { Get(CategoryLedger).Debug(format, args...) }

// Timer helps measure operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}
