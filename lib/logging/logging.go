package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/viper"

	"github.com/HORNET-Storage/hornets-relay-core/lib/config"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a string to LogLevel
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Options configures a logger built with New
type Options struct {
	Level  string
	Format string // text or json
	Output string // stdout, file or both
	LogDir string
	Writer io.Writer // overrides stdout when set
}

// sink is shared by a logger and every child created with With
type sink struct {
	output     string
	logDir     string
	stdout     io.Writer
	currentLog *os.File
	mu         sync.RWMutex
	writeMu    sync.Mutex
	started    time.Time
}

// Logger represents our custom logger
type Logger struct {
	level  LogLevel
	format string
	fields map[string]interface{}
	sink   *sink
}

var (
	globalLogger *Logger
	globalMu     sync.Mutex
	once         sync.Once

	json = jsoniter.Config{SortMapKeys: true, EscapeHTML: false}.Froze()

	// exit is swapped in tests
	exit = os.Exit
)

// InitLogger initializes the global logger with config
func InitLogger() error {
	var err error
	once.Do(func() {
		var logger *Logger
		logger, err = NewLogger()
		if err == nil {
			globalMu.Lock()
			globalLogger = logger
			globalMu.Unlock()
		}
	})
	return err
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalLogger == nil {
		// Fallback to basic logger if not initialized
		globalLogger, _ = NewBasicLogger()
	}
	return globalLogger
}

// NewLogger creates a new logger instance using the global config
func NewLogger() (*Logger, error) {
	logDir := viper.GetString("logging.path")
	if logDir == "" {
		logDir = config.GetPath("logs")
	}

	return New(Options{
		Level:  viper.GetString("logging.level"),
		Format: viper.GetString("logging.format"),
		Output: viper.GetString("logging.output"),
		LogDir: logDir,
	})
}

// New creates a logger from explicit options
func New(opts Options) (*Logger, error) {
	format := strings.ToLower(opts.Format)
	if format != "json" {
		format = "text"
	}

	output := strings.ToLower(opts.Output)
	if output == "" {
		output = "stdout"
	}

	s := &sink{
		output:  output,
		logDir:  opts.LogDir,
		stdout:  opts.Writer,
		started: time.Now(),
	}
	if s.stdout == nil {
		s.stdout = os.Stdout
	}

	if err := s.setupOutput(); err != nil {
		return nil, fmt.Errorf("failed to setup logger output: %w", err)
	}

	return &Logger{
		level:  ParseLogLevel(opts.Level),
		format: format,
		sink:   s,
	}, nil
}

// NewBasicLogger creates a basic logger for fallback
func NewBasicLogger() (*Logger, error) {
	return New(Options{Level: "info", Format: "text", Output: "stdout"})
}

// With returns a child logger that adds fields to every message
func (l *Logger) With(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	return &Logger{
		level:  l.level,
		format: l.format,
		fields: merged,
		sink:   l.sink,
	}
}

// Level returns the minimum level this logger writes
func (l *Logger) Level() LogLevel {
	return l.level
}

// setupOutput configures the output destination
func (s *sink) setupOutput() error {
	if s.output == "file" || s.output == "both" {
		return s.createLogFile()
	}
	return nil
}

// createLogFile creates the log file with date/time structure
func (s *sink) createLogFile() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// logs/2025-06-17/14-30-45.log
	dateDir := s.started.Format("2006-01-02")
	timeFile := s.started.Format("15-04-05") + ".log"

	fullDir := filepath.Join(s.logDir, dateDir)
	if err := os.MkdirAll(fullDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(fullDir, timeFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	if s.currentLog != nil {
		s.currentLog.Close()
	}

	s.currentLog = file
	return nil
}

// writer returns the appropriate writer(s)
func (s *sink) writer() io.Writer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.output {
	case "file":
		if s.currentLog != nil {
			return s.currentLog
		}
	case "both":
		if s.currentLog != nil {
			return io.MultiWriter(s.stdout, s.currentLog)
		}
	}
	return s.stdout
}

func (l *Logger) shouldLog(level LogLevel) bool {
	return level >= l.level
}

// formatMessage formats the log message based on the configured format
func (l *Logger) formatMessage(level LogLevel, msg string, fields map[string]interface{}) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")

	if l.format == "json" {
		return l.formatJSON(timestamp, level, msg, fields)
	}
	return l.formatText(timestamp, level, msg, fields)
}

// formatText formats message as plain text
func (l *Logger) formatText(timestamp string, level LogLevel, msg string, fields map[string]interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", timestamp, level.String(), msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}

	return b.String()
}

// formatJSON formats message as a single json object
func (l *Logger) formatJSON(timestamp string, level LogLevel, msg string, fields map[string]interface{}) string {
	entry := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		entry[k] = v
	}
	entry["time"] = timestamp
	entry["level"] = level.String()
	entry["msg"] = msg

	out, err := json.MarshalToString(entry)
	if err != nil {
		return l.formatText(timestamp, level, msg, fields)
	}
	return out
}

// log is the core logging method
func (l *Logger) log(level LogLevel, msg string, fields map[string]interface{}) {
	if !l.shouldLog(level) {
		return
	}

	merged := fields
	if len(l.fields) > 0 {
		merged = make(map[string]interface{}, len(l.fields)+len(fields))
		for k, v := range l.fields {
			merged[k] = v
		}
		for k, v := range fields {
			merged[k] = v
		}
	}

	formatted := l.formatMessage(level, msg, merged)

	l.sink.writeMu.Lock()
	fmt.Fprintln(l.sink.writer(), formatted)
	l.sink.writeMu.Unlock()

	if level == FATAL {
		exit(1)
	}
}

func firstFields(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs debug level messages
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(DEBUG, msg, firstFields(fields))
}

// Info logs info level messages
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(INFO, msg, firstFields(fields))
}

// Warn logs warning level messages
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(WARN, msg, firstFields(fields))
}

// Error logs error level messages
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(ERROR, msg, firstFields(fields))
}

// Fatal logs fatal level messages and exits
func (l *Logger) Fatal(msg string, fields ...map[string]interface{}) {
	l.log(FATAL, msg, firstFields(fields))
}

// Debugf logs debug level messages with formatting
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.shouldLog(DEBUG) {
		l.Debug(fmt.Sprintf(format, args...))
	}
}

// Infof logs info level messages with formatting
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// Warnf logs warning level messages with formatting
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

// Errorf logs error level messages with formatting
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// Fatalf logs fatal level messages with formatting and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.Fatal(fmt.Sprintf(format, args...))
}

// Close closes the logger and any open files
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if l.sink.currentLog != nil {
		err := l.sink.currentLog.Close()
		l.sink.currentLog = nil
		return err
	}
	return nil
}

// Global convenience functions

func Debug(msg string, fields ...map[string]interface{}) {
	GetLogger().Debug(msg, fields...)
}

func Info(msg string, fields ...map[string]interface{}) {
	GetLogger().Info(msg, fields...)
}

func Warn(msg string, fields ...map[string]interface{}) {
	GetLogger().Warn(msg, fields...)
}

func Error(msg string, fields ...map[string]interface{}) {
	GetLogger().Error(msg, fields...)
}

func Fatal(msg string, fields ...map[string]interface{}) {
	GetLogger().Fatal(msg, fields...)
}

func Debugf(format string, args ...interface{}) {
	GetLogger().Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	GetLogger().Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	GetLogger().Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	GetLogger().Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	GetLogger().Fatalf(format, args...)
}
