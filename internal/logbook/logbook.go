package logbook

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// DirName is the folder inside a results directory that holds log streams.
const DirName = "logs"

// DateLayout names the default log stream after the day it was opened.
const DateLayout = "02_01_2006"

// Sink is the logging surface the rest of vialflow depends on.
type Sink interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Logbook persists procedure progress to a dated text file inside a results
// directory, optionally mirroring every line to a console writer.
type Logbook struct {
	path   string
	mirror io.Writer
	clock  func() time.Time
	mu     sync.Mutex
}

// Option customises a Logbook.
type Option func(*Logbook)

// WithMirror copies each entry to w (typically stderr).
func WithMirror(w io.Writer) Option {
	return func(l *Logbook) {
		l.mirror = w
	}
}

// WithClock injects a deterministic clock.
func WithClock(clock func() time.Time) Option {
	return func(l *Logbook) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// New creates a logbook that writes to the provided path.
func New(path string, opts ...Option) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	book := &Logbook{path: path, clock: time.Now}
	for _, opt := range opts {
		opt(book)
	}
	return book, nil
}

// Open creates the log stream <resultsDir>/logs/<name>.log. An empty name
// defaults to today's date.
func Open(resultsDir, name string, opts ...Option) (*Logbook, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName(time.Now())
	}
	name = strings.TrimSuffix(name, ".log")
	return New(filepath.Join(resultsDir, DirName, name+".log"), opts...)
}

// DefaultName returns the date-based stream name for t.
func DefaultName(t time.Time) string {
	return t.Format(DateLayout)
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes a single entry to the logbook.
func (l *Logbook) Append(level Level, message string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s %-5s %s\n",
		l.clock().UTC().Format(time.RFC3339),
		string(level),
		strings.TrimSpace(message),
	)
	if l.mirror != nil {
		_, _ = io.WriteString(l.mirror, line)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line)
}

// Tail returns up to maxLines of the most recent entries plus the total
// number of lines in the stream.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return tailFile(l.path, maxLines)
}

// TailFile reads the last maxLines of an existing log stream without opening
// a Logbook for writing.
func TailFile(path string, maxLines int) ([]string, int) {
	if maxLines <= 0 {
		return nil, 0
	}
	return tailFile(path, maxLines)
}

func tailFile(path string, maxLines int) ([]string, int) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	total := len(lines)
	if total == 0 {
		return nil, 0
	}
	if total > maxLines {
		lines = lines[total-maxLines:]
	}
	return lines, total
}

// Info appends an informational entry.
func (l *Logbook) Info(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(format string, args ...any) {
	l.Append(LevelWarn, fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logbook) Error(format string, args ...any) {
	l.Append(LevelError, fmt.Sprintf(format, args...))
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}

// OrDiscard returns s, or Discard when s is nil. A typed-nil *Logbook is
// already safe to call, so only the interface-nil case needs replacing.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}
