package logger

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type (
	ContextLogger struct {
		mu              sync.RWMutex
		zeroLogger      *zerolog.Logger
		level           LogLevel
		context         Context
		showGoroutineID bool
	}

	Context map[string]interface{}
)

// newContextLogger creates the logger, but doesn't initialize it yet.
// Loggers are created in var phase while the global log configuration is applied later.
func newContextLogger(level LogLevel, context Context, showGoroutineID bool) *ContextLogger {
	return &ContextLogger{
		level:           level,
		context:         context,
		showGoroutineID: showGoroutineID,
	}
}

func (c *ContextLogger) update(level LogLevel, context Context, showGoroutineID bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = level
	c.context = context
	c.showGoroutineID = showGoroutineID
	c.rebuild()
}

// rebuild must be called with write lock held.
func (c *ContextLogger) rebuild() {
	zl := log.Level(toZeroLevel(c.level))
	for key, value := range c.context {
		zl = zl.With().Interface(key, value).Logger()
	}
	if c.showGoroutineID {
		zl = zl.Hook(goRoutineIDHook{})
	}
	c.zeroLogger = &zl
}

func (c *ContextLogger) logger() *zerolog.Logger {
	c.mu.RLock()
	zl := c.zeroLogger
	c.mu.RUnlock()
	if zl != nil {
		return zl
	}
	// first use, make sure global output has been set up before capturing it
	initializeGlobalLogger()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.zeroLogger == nil {
		c.rebuild()
	}
	return c.zeroLogger
}

func (c *ContextLogger) Trace(format string, args ...interface{}) {
	logMessage(c.logger().Trace(), format, args)
}

func (c *ContextLogger) Debug(format string, args ...interface{}) {
	logMessage(c.logger().Debug(), format, args)
}

func (c *ContextLogger) Info(format string, args ...interface{}) {
	logMessage(c.logger().Info(), format, args)
}

func (c *ContextLogger) Warning(format string, args ...interface{}) {
	logMessage(c.logger().Warn(), format, args)
}

func (c *ContextLogger) Error(format string, args ...interface{}) {
	logMessage(c.logger().Error(), format, args)
}

// ChangeLevel changes the level of the context logger.
func (c *ContextLogger) ChangeLevel(newLevel LogLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = newLevel
	c.rebuild()
}

func logMessage(event *zerolog.Event, format string, args []interface{}) {
	if len(args) == 0 {
		event.Msg(format)
	} else {
		event.Msgf(format, args...)
	}
}

// A hook that adds goroutine ID to the log event
type goRoutineIDHook struct{}

func (h goRoutineIDHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	e.Uint64("GoID", goroutineID())
}

func toZeroLevel(lvl LogLevel) zerolog.Level {
	switch lvl {
	case NONE:
		return zerolog.Disabled
	case TRACE:
		return zerolog.TraceLevel
	case DEBUG:
		return zerolog.DebugLevel
	case INFO:
		return zerolog.InfoLevel
	case WARNING:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		panic(fmt.Sprintf("unknown level: %d", lvl))
	}
}

// goroutineID parses the id from the stack trace header, debugging aid only.
func goroutineID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	n, _ := strconv.ParseUint(string(b), 10, 64)
	return n
}

// Returns caller with last two directories.
func consoleFormatCallerLastTwoDirs(i interface{}) string {
	c, _ := i.(string)
	if len(c) == 0 {
		return c
	}
	split := strings.Split(c, string(os.PathSeparator))
	if l := len(split); l > 2 {
		return strings.Join(split[l-3:], "/")
	} else if l > 1 {
		return strings.Join(split[l-2:], "/")
	}
	return c
}
