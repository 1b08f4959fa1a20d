// SPDX-License-Identifier: GPL-2.0-or-later

package log

// API inspired by zerolog https://github.com/rs/zerolog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Level defines log level.
type Level uint8

// Logging constants, matching ffmpeg.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

// ErrUnknownLevel unknown level name.
var ErrUnknownLevel = errors.New("unknown log level")

// ParseLevel parses a level name, "warn" and "warning" are equal.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(name) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarning, nil
	case "info", "":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLevel, name)
}

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	}
	return "unknown"
}

// UnixMicro time in microseconds.
type UnixMicro uint64

// Entry log entry.
type Entry struct {
	Level Level
	Time  UnixMicro
	Src   string // Source.
	File  string // Container file the entry refers to.
	Msg   string
}

// Event defines log event.
type Event struct {
	level Level
	time  UnixMicro
	src   string
	file  string

	logger *Logger
}

// Src sets event source.
func (e *Event) Src(source string) *Event {
	e.src = source
	return e
}

// File sets event file.
func (e *Event) File(path string) *Event {
	e.file = path
	return e
}

// Time sets event time.
func (e *Event) Time(t time.Time) *Event {
	e.time = UnixMicro(t.UnixMicro())
	return e
}

// Msg sends the *Event with msg added as the message field.
// Events from a nil Logger are dropped.
func (e *Event) Msg(msg string) {
	if e.logger == nil {
		return
	}
	e.logger.Log(Entry{
		Level: e.level,
		Time:  e.time,
		Src:   e.src,
		File:  e.file,
		Msg:   msg,
	})
}

// Msgf sends the event with formatted msg added as the message field.
func (e *Event) Msgf(format string, v ...interface{}) {
	e.Msg(fmt.Sprintf(format, v...))
}

type logFeed chan Entry

// Logger logs.
type Logger struct {
	feed  logFeed      // feed of logs.
	sub   chan logFeed // subscribe requests.
	unsub chan logFeed // unsubscribe requests.

	// Closed when the logger stops.
	done chan struct{}

	minLevel Level
	wg       *sync.WaitGroup
}

// NewLogger returns a Logger, Start must be called before logging.
func NewLogger(wg *sync.WaitGroup) *Logger {
	return &Logger{
		feed:     make(logFeed),
		sub:      make(chan logFeed),
		unsub:    make(chan logFeed),
		done:     make(chan struct{}),
		minLevel: LevelDebug,
		wg:       wg,
	}
}

// NewMockLogger used for testing.
func NewMockLogger() *Logger {
	return NewLogger(&sync.WaitGroup{})
}

// SetLevel drops entries less severe than level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// Start logger.
func (l *Logger) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(l.done)

		subs := map[logFeed]struct{}{}
		for {
			select {
			case <-ctx.Done():
				return

			case ch := <-l.sub:
				subs[ch] = struct{}{}

			case ch := <-l.unsub:
				close(ch)
				delete(subs, ch)

			case entry := <-l.feed:
				for ch := range subs {
					ch <- entry
				}
			}
		}
	}()
}

// Log sends entry to all subscribers. Blocks until the
// entry is accepted or the logger has stopped.
func (l *Logger) Log(entry Entry) {
	if l == nil || entry.Level > l.minLevel {
		return
	}
	if entry.Time == 0 {
		entry.Time = UnixMicro(time.Now().UnixMicro())
	}
	select {
	case l.feed <- entry:
	case <-l.done:
	}
}

// CancelFunc cancels log feed subsciption.
type CancelFunc func()

// Subscribe returns a new chan with log feed and a CancelFunc.
func (l *Logger) Subscribe() (<-chan Entry, CancelFunc) {
	feed := make(logFeed)
	select {
	case l.sub <- feed:
	case <-l.done:
		close(feed)
		return feed, func() {}
	}

	cancel := func() {
		l.unSubscribe(feed)
	}
	return feed, cancel
}

func (l *Logger) unSubscribe(feed logFeed) {
	// Read feed until unsub request is accepted.
	for {
		select {
		case l.unsub <- feed:
			return
		case <-feed:
		case <-l.done:
			return
		}
	}
}

// LogToStdout prints log feed to Stdout.
func (l *Logger) LogToStdout(ctx context.Context) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case entry, ok := <-feed:
			if !ok {
				return
			}
			fmt.Println(formatEntry(entry))
		case <-ctx.Done():
			return
		}
	}
}

func formatEntry(entry Entry) string {
	var output string

	switch entry.Level {
	case LevelError:
		output += "[ERROR] "
	case LevelWarning:
		output += "[WARNING] "
	case LevelInfo:
		output += "[INFO] "
	case LevelDebug:
		output += "[DEBUG] "
	}

	if entry.File != "" {
		output += entry.File + ": "
	}
	if entry.Src != "" {
		output += strings.ToUpper(entry.Src[:1]) + entry.Src[1:] + ": "
	}

	return output + entry.Msg
}

func (l *Logger) newEvent(level Level) *Event {
	return &Event{
		level:  level,
		time:   UnixMicro(time.Now().UnixMicro()),
		logger: l,
	}
}

// Error starts a new message with error level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Error() *Event {
	return l.newEvent(LevelError)
}

// Warn starts a new message with warn level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Warn() *Event {
	return l.newEvent(LevelWarning)
}

// Info starts a new message with info level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Info() *Event {
	return l.newEvent(LevelInfo)
}

// Debug starts a new message with debug level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Debug() *Event {
	return l.newEvent(LevelDebug)
}
