package pipeline

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fatih/color"
)

// Reporter prints run progress to the console and, when configured, mirrors
// every line to a timestamped log file.
type Reporter struct {
	mu   sync.Mutex
	out  io.Writer
	file *os.File
	log  *log.Logger
}

func NewReporter(out io.Writer, logFile string) (*Reporter, error) {
	r := &Reporter{out: out}
	if logFile == "" {
		return r, nil
	}

	if dir := filepath.Dir(logFile); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logFile, err)
	}
	r.file = f
	r.log = log.New(f, "", log.Ldate|log.Ltime)
	return r, nil
}

// Discard is a Reporter that prints nothing.
func Discard() *Reporter {
	return &Reporter{out: io.Discard}
}

func (r *Reporter) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

func (r *Reporter) print(c *color.Color, level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	r.mu.Lock()
	defer r.mu.Unlock()
	c.Fprintln(r.out, msg)
	if r.log != nil {
		r.log.Printf("%s: %s", level, msg)
	}
}

func (r *Reporter) Stage(s State) {
	r.print(color.New(color.FgCyan, color.Bold), "STAGE", "▶ %s", s)
}

func (r *Reporter) Info(format string, args ...any) {
	r.print(color.New(color.FgWhite), "INFO", format, args...)
}

func (r *Reporter) Success(format string, args ...any) {
	r.print(color.New(color.FgGreen), "INFO", "✅ "+format, args...)
}

func (r *Reporter) Warn(format string, args ...any) {
	r.print(color.New(color.FgYellow), "WARN", "⚠️  "+format, args...)
}

func (r *Reporter) Error(format string, args ...any) {
	r.print(color.New(color.FgRed), "ERROR", "❌ "+format, args...)
}
