// Package ttcom aggregates TT server sessions: configuration loading,
// the server registry, the rolling event log, and output fan-out.
package ttcom

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const logFlushInterval = 5 * time.Second

// EventLog appends every inbound server line to a rolling audit log.
// With `ttcom.log` present it appends plain text; with only
// `ttcom.log.gz` present it appends gzip members after verifying the
// existing file reads cleanly end to end. With neither present, logging
// is off entirely.
type EventLog struct {
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	w       io.Writer
	flush   func() error
	closers []io.Closer
	done    chan struct{}
}

// OpenEventLog opens the log at path per the rules above. A damaged
// .gz file is an error so new entries don't get appended after garbage.
func OpenEventLog(path string) (*EventLog, error) {
	l := &EventLog{now: time.Now}
	l.logger = log.Logger.With().Str("caller", "eventlog").Logger()
	if _, err := os.Stat(path); err == nil {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		l.w = f
		l.flush = func() error { return f.Sync() }
		l.closers = []io.Closer{f}
	} else if _, err := os.Stat(path + ".gz"); err == nil {
		if err := checkGzip(path + ".gz"); err != nil {
			return nil, fmt.Errorf("log file %s.gz is damaged, rename or expand it first: %w", path, err)
		}
		f, err := os.OpenFile(path+".gz", os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		zw := gzip.NewWriter(f)
		l.w = zw
		l.flush = zw.Flush
		l.closers = []io.Closer{zw, f}
	} else {
		// No log file, no logging.
		return l, nil
	}
	l.done = make(chan struct{})
	go l.flusher()
	l.LogGlobalEvent("starting")
	return l, nil
}

// checkGzip reads the whole file to make sure appending is safe.
func checkGzip(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	zr, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		return err
	}
	defer zr.Close()
	_, err = io.Copy(io.Discard, zr)
	return err
}

// Enabled reports whether entries are being written anywhere.
func (l *EventLog) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w != nil
}

func (l *EventLog) write(name, line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return
	}
	entry := fmt.Sprintf("%s\n  %s: %s\n", l.now().Format(time.ANSIC), name, line)
	if _, err := io.WriteString(l.w, entry); err != nil {
		l.logger.Error().Err(err).Msg("event log write failed")
	}
}

// LogEvent records one inbound line from a server.
func (l *EventLog) LogEvent(shortname, line string) {
	l.write(shortname, line)
}

// LogGlobalEvent records a program-level event such as startup.
func (l *EventLog) LogGlobalEvent(event string) {
	l.write("*TTCom*", event)
}

// flusher pushes buffered entries out periodically so a crash loses at
// most a few seconds of log.
func (l *EventLog) flusher() {
	t := time.NewTicker(logFlushInterval)
	defer t.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-t.C:
			l.mu.Lock()
			if l.flush != nil {
				l.flush()
			}
			l.mu.Unlock()
		}
	}
}

// Close flushes and closes the log.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	if l.done != nil {
		close(l.done)
		l.done = nil
	}
	if l.flush != nil {
		l.flush()
	}
	var firstErr error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.w = nil
	return firstErr
}
