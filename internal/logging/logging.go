// Package logging manages per-operation log files under the installation's
// log directory. Every mutating operation opens one log, the executor
// streams subprocess output into it, and the logs command reads them back.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// stampLayout matches the timestamps embedded in log file names.
const stampLayout = "2006-01-02-15-04-05"

// Log is one operation's log file. It implements io.Writer so subprocess
// output can stream straight into it.
type Log struct {
	file *os.File
	path string
}

// Open creates (or reopens, within the same second) the log file for an
// operation under dir.
func Open(dir, operation string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	name := fmt.Sprintf("%s-%s.log", operation, time.Now().Format(stampLayout))
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open operation log: %w", err)
	}
	return &Log{file: file, path: path}, nil
}

func (l *Log) Write(p []byte) (int, error) {
	return l.file.Write(p)
}

// Path returns the log file's location.
func (l *Log) Path() string {
	return l.path
}

// Close flushes and closes the log file.
func (l *Log) Close() error {
	return l.file.Close()
}

// Entry describes one stored operation log.
type Entry struct {
	Operation string    `json:"operation"`
	Time      time.Time `json:"time"`
	Path      string    `json:"path"`
}

// List returns the stored operation logs, newest first. Files that do not
// follow the log naming scheme are ignored.
func List(dir string) ([]Entry, error) {
	files, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan log directory: %w", err)
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		entry, ok := parseName(f.Name())
		if !ok {
			continue
		}
		entry.Path = filepath.Join(dir, f.Name())
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Time.Equal(entries[j].Time) {
			return entries[i].Time.After(entries[j].Time)
		}
		return entries[i].Operation < entries[j].Operation
	})
	return entries, nil
}

// Tail returns the last n lines of the log at path; n <= 0 returns the
// whole file.
func Tail(path string, n int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read operation log: %w", err)
	}
	text := strings.TrimRight(string(data), "\n")
	if n <= 0 {
		return text, nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return text, nil
	}
	return strings.Join(lines[len(lines)-n:], "\n"), nil
}

// parseName splits "<operation>-<stamp>.log". Operations may themselves
// contain dashes, so the timestamp is taken from the right.
func parseName(name string) (Entry, bool) {
	base, ok := strings.CutSuffix(name, ".log")
	if !ok || len(base) <= len(stampLayout) {
		return Entry{}, false
	}
	stamp := base[len(base)-len(stampLayout):]
	op := strings.TrimSuffix(base[:len(base)-len(stampLayout)], "-")
	if op == "" {
		return Entry{}, false
	}
	t, err := time.ParseInLocation(stampLayout, stamp, time.Local)
	if err != nil {
		return Entry{}, false
	}
	return Entry{Operation: op, Time: t}, true
}
