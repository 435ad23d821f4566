package providers

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/FamilySearch/pewpew/internal/pchan"
	"github.com/FamilySearch/pewpew/internal/value"
)

// LoggerTarget names where a logger sink writes (spec.md §4.B "Logger").
type LoggerTarget int

const (
	LogStdout LoggerTarget = iota
	LogStderr
	LogFile
)

// Logger consumes values produced by `log` selects and writes them out,
// newline-delimited when Pretty is set. When Limit values have been
// consumed it reports KilledByLogger via Killed.
type Logger struct {
	Target LoggerTarget
	Path   string // only used when Target == LogFile
	Pretty bool
	Limit  int64 // 0 means unlimited

	w      io.Writer
	count  int64
	killed chan struct{}
}

// NewLogger opens the logger's destination writer. File destinations are
// backed by lumberjack so a long-running test's log doesn't grow unbounded.
func NewLogger(target LoggerTarget, path string, pretty bool, limit int64) (*Logger, error) {
	l := &Logger{Target: target, Path: path, Pretty: pretty, Limit: limit, killed: make(chan struct{})}
	switch target {
	case LogStdout:
		l.w = os.Stdout
	case LogStderr:
		l.w = os.Stderr
	case LogFile:
		l.w = &lumberjack.Logger{Filename: path, MaxSize: 100, MaxBackups: 3}
	default:
		return nil, fmt.Errorf("unknown logger target %d", target)
	}
	return l, nil
}

// Killed is closed once Limit values have been written.
func (l *Logger) Killed() <-chan struct{} { return l.killed }

// Run drains ch, writing each value until the channel ends, ctx is
// cancelled, or Limit is reached.
func (l *Logger) Run(ctx context.Context, ch *pchan.Chan) {
	for {
		v, ok, err := ch.Recv(ctx)
		if err != nil || !ok {
			return
		}
		l.write(v)
		n := atomic.AddInt64(&l.count, 1)
		if l.Limit > 0 && n >= l.Limit {
			close(l.killed)
			return
		}
	}
}

// write renders v. Pretty mode newline-delimits each entry; otherwise
// values are written back to back with no separator (spec.md §4.B).
func (l *Logger) write(v value.Value) {
	if l.Pretty {
		fmt.Fprintln(l.w, v.String())
		return
	}
	fmt.Fprint(l.w, v.String())
}

// Count returns the number of values written so far.
func (l *Logger) Count() int64 { return atomic.LoadInt64(&l.count) }
