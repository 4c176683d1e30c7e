package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Category represents a log category
type Category string

const (
	CategoryAuth      Category = "auth"
	CategoryWebhook   Category = "webhook"
	CategoryWebSocket Category = "websocket"
	CategoryIndex     Category = "index"
	CategoryMatch     Category = "match"
	CategoryDeletion  Category = "deletion"
	CategoryNotify    Category = "notify"
	CategoryAPI       Category = "api"
	CategoryDB        Category = "db"
	CategoryStartup   Category = "startup"
	CategoryScheduler Category = "scheduler"
)

var allCategories = []Category{
	CategoryAuth, CategoryWebhook, CategoryWebSocket, CategoryIndex, CategoryMatch,
	CategoryDeletion, CategoryNotify, CategoryAPI, CategoryDB, CategoryStartup, CategoryScheduler,
}

// Level represents log level
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// LogEntry is one JSON line as written by the category writers.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     Level                  `json:"level"`
	Category  Category               `json:"category"`
	Action    string                 `json:"action"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

func init() {
	zerolog.TimestampFieldName = "timestamp"
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// Logger fans structured entries out to one daily file per category.
type Logger struct {
	mu      sync.Mutex
	logDir  string
	console bool
	nop     bool
	loggers map[Category]zerolog.Logger
	files   []*dailyFile
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// Init initializes the default logger
func Init(logDir string, console bool) error {
	l, err := NewLogger(logDir, console)
	if err != nil {
		return err
	}
	SetDefault(l)
	return nil
}

// NewLogger creates a new logger
func NewLogger(logDir string, console bool) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &Logger{
		logDir:  logDir,
		console: console,
		loggers: make(map[Category]zerolog.Logger),
	}, nil
}

// Nop returns a logger that drops everything. Used by tests.
func Nop() *Logger {
	return &Logger{nop: true, loggers: make(map[Category]zerolog.Logger)}
}

// SetDefault replaces the package level logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// Default returns the default logger
func Default() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}

	l, err := NewLogger("logs", true)
	if err != nil {
		l = Nop()
	}
	SetDefault(l)
	return l
}

func (l *Logger) category(cat Category) zerolog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	if zl, ok := l.loggers[cat]; ok {
		return zl
	}

	if l.nop {
		zl := zerolog.Nop()
		l.loggers[cat] = zl
		return zl
	}

	file := &dailyFile{dir: l.logDir, category: cat}
	l.files = append(l.files, file)

	var out io.Writer = file
	if l.console {
		out = zerolog.MultiLevelWriter(file, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"})
	}

	zl := zerolog.New(out).With().Timestamp().Str("category", string(cat)).Logger()
	l.loggers[cat] = zl
	return zl
}

// Log writes a log entry
func (l *Logger) Log(level Level, cat Category, action, message string, err error, data map[string]interface{}) {
	zl := l.category(cat)
	ev := zl.WithLevel(level.zerolog()).Str("action", action)
	if err != nil {
		ev = ev.Err(err)
	}
	if len(data) > 0 {
		ev = ev.Interface("data", data)
	}
	ev.Msg(message)
}

// Close closes all file writers
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, f := range l.files {
		f.Close()
	}
	l.files = nil
	l.loggers = make(map[Category]zerolog.Logger)
}

// dailyFile reopens <category>_<date>.log when the day rolls over.
type dailyFile struct {
	mu       sync.Mutex
	dir      string
	category Category
	day      string
	file     *os.File
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	if d.file == nil || d.day != today {
		if d.file != nil {
			d.file.Close()
		}
		path := filepath.Join(d.dir, fmt.Sprintf("%s_%s.log", d.category, today))
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return 0, err
		}
		d.file = f
		d.day = today
	}
	return d.file.Write(p)
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

// Helper functions for common log operations

func Auth(action, message string, data map[string]interface{}) {
	Default().Log(LevelInfo, CategoryAuth, action, message, nil, data)
}

func AuthError(action, message string, err error, data map[string]interface{}) {
	Default().Log(LevelError, CategoryAuth, action, message, err, data)
}

// Webhook logs inbound bot updates
func Webhook(action, message string, data map[string]interface{}) {
	Default().Log(LevelInfo, CategoryWebhook, action, message, nil, data)
}

func WebhookError(action, message string, err error, data map[string]interface{}) {
	Default().Log(LevelError, CategoryWebhook, action, message, err, data)
}

func WebSocket(action, message string, data map[string]interface{}) {
	Default().Log(LevelInfo, CategoryWebSocket, action, message, nil, data)
}

func WebSocketError(action, message string, err error, data map[string]interface{}) {
	Default().Log(LevelError, CategoryWebSocket, action, message, err, data)
}

// Index logs the indexing worker and collection manager
func Index(action, message string, data map[string]interface{}) {
	Default().Log(LevelInfo, CategoryIndex, action, message, nil, data)
}

func IndexWarn(action, message string, data map[string]interface{}) {
	Default().Log(LevelWarn, CategoryIndex, action, message, nil, data)
}

func IndexError(action, message string, err error, data map[string]interface{}) {
	Default().Log(LevelError, CategoryIndex, action, message, err, data)
}

// Match logs face search
func Match(action, message string, data map[string]interface{}) {
	Default().Log(LevelInfo, CategoryMatch, action, message, nil, data)
}

func MatchError(action, message string, err error, data map[string]interface{}) {
	Default().Log(LevelError, CategoryMatch, action, message, err, data)
}

// Deletion logs the deletion coordinator
func Deletion(action, message string, data map[string]interface{}) {
	Default().Log(LevelInfo, CategoryDeletion, action, message, nil, data)
}

func DeletionWarn(action, message string, data map[string]interface{}) {
	Default().Log(LevelWarn, CategoryDeletion, action, message, nil, data)
}

func DeletionError(action, message string, err error, data map[string]interface{}) {
	Default().Log(LevelError, CategoryDeletion, action, message, err, data)
}

// Notify logs outbound chat messages
func Notify(action, message string, data map[string]interface{}) {
	Default().Log(LevelInfo, CategoryNotify, action, message, nil, data)
}

func NotifyWarn(action, message string, data map[string]interface{}) {
	Default().Log(LevelWarn, CategoryNotify, action, message, nil, data)
}

func NotifyError(action, message string, err error, data map[string]interface{}) {
	Default().Log(LevelError, CategoryNotify, action, message, err, data)
}

func API(action, message string, data map[string]interface{}) {
	Default().Log(LevelInfo, CategoryAPI, action, message, nil, data)
}

func DB(action, message string, data map[string]interface{}) {
	Default().Log(LevelDebug, CategoryDB, action, message, nil, data)
}

func Startup(action, message string, data map[string]interface{}) {
	Default().Log(LevelInfo, CategoryStartup, action, message, nil, data)
}

func StartupError(action, message string, err error, data map[string]interface{}) {
	Default().Log(LevelError, CategoryStartup, action, message, err, data)
}

func StartupWarn(action, message string, data map[string]interface{}) {
	Default().Log(LevelWarn, CategoryStartup, action, message, nil, data)
}

func Scheduler(action, message string, data map[string]interface{}) {
	Default().Log(LevelInfo, CategoryScheduler, action, message, nil, data)
}

func SchedulerWarn(action, message string, data map[string]interface{}) {
	Default().Log(LevelWarn, CategoryScheduler, action, message, nil, data)
}

func SchedulerError(action, message string, err error, data map[string]interface{}) {
	Default().Log(LevelError, CategoryScheduler, action, message, err, data)
}

// Info logs info level message
func Info(category Category, action, message string, data map[string]interface{}) {
	Default().Log(LevelInfo, category, action, message, nil, data)
}

// Error logs error level message
func Error(category Category, action, message string, err error, data map[string]interface{}) {
	Default().Log(LevelError, category, action, message, err, data)
}

// Debug logs debug level message
func Debug(category Category, action, message string, data map[string]interface{}) {
	Default().Log(LevelDebug, category, action, message, nil, data)
}

// Warn logs warning level message
func Warn(category Category, action, message string, data map[string]interface{}) {
	Default().Log(LevelWarn, category, action, message, nil, data)
}

// ReadLogsOptions options for reading logs
type ReadLogsOptions struct {
	Category Category // Filter by category (empty = all)
	Level    Level    // Filter by level (empty = all)
	Lines    int      // Number of lines to return (default 100)
	Search   string   // Search in message/action/error
	EventID  string   // Only entries whose data carries this event_id
}

// ReadLogs reads today's log entries from the default logger
func ReadLogs(opts ReadLogsOptions) ([]LogEntry, error) {
	return Default().ReadLogs(opts)
}

// ReadLogs reads today's log entries, newest first
func (l *Logger) ReadLogs(opts ReadLogsOptions) ([]LogEntry, error) {
	if opts.Lines <= 0 {
		opts.Lines = 100
	}
	if opts.Lines > 1000 {
		opts.Lines = 1000
	}
	if l.nop {
		return nil, nil
	}

	today := time.Now().Format("2006-01-02")
	categories := allCategories
	if opts.Category != "" {
		categories = []Category{opts.Category}
	}

	search := strings.ToLower(opts.Search)
	var entries []LogEntry
	for _, cat := range categories {
		path := filepath.Join(l.logDir, fmt.Sprintf("%s_%s.log", cat, today))
		file, err := os.Open(path)
		if err != nil {
			continue
		}

		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			entry, ok := parseEntry(scanner.Bytes())
			if !ok {
				continue
			}
			if opts.Level != "" && entry.Level != opts.Level {
				continue
			}
			if opts.EventID != "" && fmt.Sprint(entry.Data["event_id"]) != opts.EventID {
				continue
			}
			if search != "" &&
				!strings.Contains(strings.ToLower(entry.Message), search) &&
				!strings.Contains(strings.ToLower(entry.Action), search) &&
				!strings.Contains(strings.ToLower(entry.Error), search) {
				continue
			}
			entries = append(entries, entry)
		}
		file.Close()
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	if len(entries) > opts.Lines {
		entries = entries[:opts.Lines]
	}
	return entries, nil
}

// GetLogDir returns the log directory path
func GetLogDir() string {
	return Default().logDir
}

// ListLogFiles returns list of log files
func ListLogFiles() ([]string, error) {
	return Default().ListLogFiles()
}

func (l *Logger) ListLogFiles() ([]string, error) {
	if l.nop {
		return nil, nil
	}

	entries, err := os.ReadDir(l.logDir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".log" {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}

func parseEntry(line []byte) (LogEntry, bool) {
	var entry LogEntry
	if len(line) == 0 {
		return entry, false
	}
	if err := json.Unmarshal(line, &entry); err != nil {
		return entry, false
	}
	return entry, true
}
