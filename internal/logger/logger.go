// Package logger provides the process-wide leveled logger.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel maps a config value to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var (
	mu         sync.RWMutex
	minLevel   = LevelInfo
	jsonFormat bool
	std        = log.New(os.Stdout, "", log.Ldate|log.Ltime)

	tags = map[Level]*color.Color{
		LevelDebug: color.New(color.FgMagenta),
		LevelInfo:  color.New(color.FgCyan),
		LevelWarn:  color.New(color.FgYellow),
		LevelError: color.New(color.FgRed, color.Bold),
	}
)

// Init configures the logger from the app.log_level and app.log_format
// settings.
func Init(level, format string) {
	mu.Lock()
	defer mu.Unlock()

	minLevel = ParseLevel(level)
	jsonFormat = strings.EqualFold(format, "json")
	if jsonFormat {
		std.SetFlags(0)
	} else {
		std.SetFlags(log.Ldate | log.Ltime)
	}
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	std.SetOutput(w)
}

// IsDebugEnabled returns whether debug logging is enabled
func IsDebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return minLevel <= LevelDebug
}

func Debug(format string, v ...interface{}) { emit(LevelDebug, fmt.Sprintf(format, v...), nil) }

func Info(format string, v ...interface{}) { emit(LevelInfo, fmt.Sprintf(format, v...), nil) }

func Warn(format string, v ...interface{}) { emit(LevelWarn, fmt.Sprintf(format, v...), nil) }

func Error(format string, v ...interface{}) { emit(LevelError, fmt.Sprintf(format, v...), nil) }

// Event logs msg with structured fields. In text mode the fields are
// appended as sorted key=value pairs.
func Event(level Level, msg string, fields map[string]interface{}) {
	emit(level, msg, fields)
}

func emit(level Level, msg string, fields map[string]interface{}) {
	mu.RLock()
	defer mu.RUnlock()

	if level < minLevel {
		return
	}

	if jsonFormat {
		entry := make(map[string]interface{}, len(fields)+3)
		for k, v := range fields {
			entry[k] = v
		}
		entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)
		entry["level"] = level.String()
		entry["msg"] = msg
		data, err := json.Marshal(entry)
		if err != nil {
			_ = std.Output(3, fmt.Sprintf(`{"level":"error","msg":"failed to encode log entry: %v"}`, err))
			return
		}
		_ = std.Output(3, string(data))
		return
	}

	var b strings.Builder
	b.WriteString(tags[level].Sprint(strings.ToUpper(level.String())))
	b.WriteString(" ")
	b.WriteString(msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	_ = std.Output(3, b.String())
}
