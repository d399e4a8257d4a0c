package agent

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

// Logger renders agent output. Status messages carry timestamps; command
// results go through Output without decoration. In jsonRPCMode every MCP
// request, response, and notification is printed as pretty JSON.
type Logger struct {
	verbose     bool
	useColor    bool
	jsonRPCMode bool
	writer      io.Writer
}

// NewLogger creates a logger writing to stdout.
func NewLogger(verbose, useColor, jsonRPCMode bool) *Logger {
	return NewLoggerWithWriter(verbose, useColor, jsonRPCMode, os.Stdout)
}

// NewLoggerWithWriter creates a logger with a custom writer.
func NewLoggerWithWriter(verbose, useColor, jsonRPCMode bool, writer io.Writer) *Logger {
	return &Logger{
		verbose:     verbose,
		useColor:    useColor,
		jsonRPCMode: jsonRPCMode,
		writer:      writer,
	}
}

// Output writes user-facing command results without timestamps.
func (l *Logger) Output(format string, args ...interface{}) {
	fmt.Fprintf(l.writer, format, args...)
}

// OutputLine writes user-facing command results with a trailing newline.
func (l *Logger) OutputLine(format string, args ...interface{}) {
	fmt.Fprintf(l.writer, format+"\n", args...)
}

func (l *Logger) timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

func (l *Logger) colorize(text, colorCode string) string {
	if !l.useColor {
		return text
	}
	return fmt.Sprintf("%s%s%s", colorCode, text, colorReset)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.writer, "[%s] %s\n", l.timestamp(), msg)
}

// Debug logs a debug message in verbose mode only.
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.verbose {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.writer, "[%s] %s\n", l.timestamp(), l.colorize(msg, colorGray))
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.writer, "[%s] %s\n", l.timestamp(), l.colorize(msg, colorRed))
}

// Success logs a success message.
func (l *Logger) Success(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.writer, "[%s] %s\n", l.timestamp(), l.colorize(msg, colorGreen))
}

// Request logs an outgoing MCP request.
func (l *Logger) Request(method string, params interface{}) {
	if !l.jsonRPCMode {
		switch method {
		case "initialize":
			l.Info("Initializing MCP session...")
		case "tools/list", "prompts/list":
			l.Debug("Requesting %s...", method)
		default:
			l.Debug("Sending request: %s", method)
		}
		return
	}

	arrow := l.colorize("->", colorBlue)
	methodStr := l.colorize(fmt.Sprintf("REQUEST (%s)", method), colorBlue)
	fmt.Fprintf(l.writer, "[%s] %s %s:\n", l.timestamp(), arrow, methodStr)
	if params != nil {
		fmt.Fprintln(l.writer, l.colorize(PrettyJSON(params), colorBlue))
	}
	fmt.Fprintln(l.writer)
}

// Response logs an incoming MCP response.
func (l *Logger) Response(method string, result interface{}) {
	if !l.jsonRPCMode {
		switch method {
		case "initialize":
			l.Success("Session initialized")
		case "tools/list":
			if n := countListItems(result, "tools"); n >= 0 {
				l.Debug("Found %d tools", n)
			}
		case "prompts/list":
			if n := countListItems(result, "prompts"); n >= 0 {
				l.Debug("Found %d prompts", n)
			}
		default:
			l.Debug("Received response for: %s", method)
		}
		return
	}

	arrow := l.colorize("<-", colorGreen)
	methodStr := l.colorize(fmt.Sprintf("RESPONSE (%s)", method), colorGreen)
	fmt.Fprintf(l.writer, "[%s] %s %s:\n", l.timestamp(), arrow, methodStr)
	if result != nil {
		fmt.Fprintln(l.writer, l.colorize(PrettyJSON(result), colorGreen))
	}
	fmt.Fprintln(l.writer)
}

// Notification logs an incoming MCP notification.
func (l *Logger) Notification(method string, params interface{}) {
	if !l.jsonRPCMode {
		switch method {
		case "notifications/tools/list_changed":
			l.Info("Tool catalog changed, refreshing...")
		case "notifications/prompts/list_changed":
			l.Info("Prompt catalog changed, refreshing...")
		default:
			l.Debug("Received notification: %s", method)
		}
		return
	}

	arrow := l.colorize("<-", colorYellow)
	methodStr := l.colorize(fmt.Sprintf("NOTIFICATION (%s)", method), colorYellow)
	fmt.Fprintf(l.writer, "[%s] %s %s:\n", l.timestamp(), arrow, methodStr)
	if params != nil {
		fmt.Fprintln(l.writer, l.colorize(PrettyJSON(params), colorYellow))
	}
	fmt.Fprintln(l.writer)
}

// countListItems extracts the length of the named array from a list
// response of unknown concrete type. Returns -1 when the shape is
// unrecognized.
func countListItems(result interface{}, field string) int {
	if m, ok := result.(map[string]interface{}); ok {
		if items, ok := m[field].([]interface{}); ok {
			return len(items)
		}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return -1
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return -1
	}
	var items []json.RawMessage
	if err := json.Unmarshal(decoded[field], &items); err != nil {
		return -1
	}
	return len(items)
}
