package errors

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/vango-dev/worldsync/pkg/conn"
	"github.com/vango-dev/worldsync/pkg/protocol"
)

// Category represents the type of error.
type Category string

const (
	CategoryDecode    Category = "decode"
	CategoryProtocol  Category = "protocol"
	CategoryTimeout   Category = "timeout"
	CategoryCapacity  Category = "capacity"
	CategoryTransport Category = "transport"
	CategoryConfig    Category = "config"
	CategoryStorage   Category = "storage"
	CategoryCLI       Category = "cli"
)

// Location represents a position in a file, such as a config file line.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Error is a structured error with a code, category and fix suggestion.
type Error struct {
	// Code is a unique error identifier (e.g., "E001").
	Code string

	// Category is the error type (decode, protocol, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location is the file position where the error occurred.
	Location *Location

	// Context contains surrounding file lines.
	Context []string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// WithLocation adds a file position and the surrounding lines.
func (e *Error) WithLocation(file string, line, column int) *Error {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context = readContextLines(file, line, 5)
	return e
}

// yamlLine matches the position in gopkg.in/yaml.v2 errors.
var yamlLine = regexp.MustCompile(`line (\d+):`)

// WithLocationFromYAML extracts the line of a YAML parse error in file.
func (e *Error) WithLocationFromYAML(file string, err error) *Error {
	if err == nil {
		return e
	}
	m := yamlLine.FindStringSubmatch(err.Error())
	if m == nil {
		return e
	}
	if line, convErr := strconv.Atoi(m[1]); convErr == nil && line > 0 {
		return e.WithLocation(file, line, 0)
	}
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *Error) WithDetail(d string) *Error {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *Error) Wrap(err error) *Error {
	e.Wrapped = err
	return e
}

// readContextLines reads lines around the specified line number from a file.
func readContextLines(filename string, targetLine, contextSize int) []string {
	file, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	lineNum := 0
	startLine := targetLine - contextSize/2
	endLine := targetLine + contextSize/2

	for scanner.Scan() {
		lineNum++
		if lineNum >= startLine && lineNum <= endLine {
			lines = append(lines, scanner.Text())
		}
		if lineNum > endLine {
			break
		}
	}
	return lines
}

// New creates an Error from a registered error code.
func New(code string) *Error {
	template, ok := registry[code]
	if !ok {
		return &Error{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &Error{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Detail:     template.Detail,
		Suggestion: template.Suggestion,
	}
}

// Newf creates a new Error with a formatted message (no code).
func Newf(category Category, format string, args ...any) *Error {
	return &Error{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError classifies err. Already structured errors are returned as is;
// decode errors and connection sentinels map to their codes; anything else
// is wrapped under code.
func FromError(err error, code string) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	var de *protocol.DecodeError
	if errors.As(err, &de) {
		return New(decodeCodes[de.Kind]).Wrap(err)
	}
	switch {
	case errors.Is(err, conn.ErrProtocolViolation):
		return New(CodeProtocolViolation).Wrap(err)
	case errors.Is(err, conn.ErrMessageTooLarge):
		return New(CodeMessageTooLarge).Wrap(err)
	case errors.Is(err, conn.ErrTransportFailed):
		return New(CodeTransportLost).Wrap(err)
	}
	return New(code).Wrap(err)
}

var decodeCodes = map[protocol.DecodeErrorKind]string{
	protocol.DecodeVersionMismatch: CodeVersionMismatch,
	protocol.DecodeTruncated:       CodeTruncated,
	protocol.DecodeUnknownType:     CodeUnknownType,
	protocol.DecodeMalformed:       CodeMalformed,
}

// FromReason describes why a connection ended. ReasonLocal, ReasonRemote
// and ReasonNone are orderly and return nil.
func FromReason(reason conn.Reason, detail string) *Error {
	var code string
	switch reason {
	case conn.ReasonTimeout:
		code = CodeTimeout
	case conn.ReasonHandshakeTimeout:
		code = CodeHandshakeTimeout
	case conn.ReasonProtocolViolation:
		code = CodeProtocolViolation
	case conn.ReasonRejected:
		code = CodeRejected
	case conn.ReasonShutdown:
		code = CodeShutdown
	default:
		return nil
	}
	e := New(code)
	if detail != "" {
		e.Detail = detail
	}
	return e
}
