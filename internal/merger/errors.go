package merger

import (
	"errors"
	"fmt"
)

// Exit codes reported by the config-merger process.
const (
	ExitSuccess        = 0
	ExitUsage          = 1
	ExitMissingDefault = 2
	ExitParse          = 3
	ExitDerivedOutput  = 4
	ExitWrite          = 5
	ExitRead           = 6
)

var (
	// ErrMissingRequiredLayer is returned when the default layer is absent or empty.
	ErrMissingRequiredLayer = errors.New("required layer is missing")
	// ErrParse is returned when a present layer is not a valid YAML mapping document.
	ErrParse = errors.New("layer is not valid structured data")
	// ErrRead is returned when a present layer cannot be read.
	ErrRead = errors.New("layer could not be read")
	// ErrDerivedOutput is returned when a derived output cannot be rendered from the merged config.
	ErrDerivedOutput = errors.New("derived output failed")
	// ErrWrite is returned when an output file cannot be written.
	ErrWrite = errors.New("output could not be written")
	// ErrRules is returned when the derived output table is invalid.
	ErrRules = errors.New("invalid derived output rules")
)

// Error carries the kind of failure together with the layer or output it
// concerns. Kind is one of the Err* sentinels and matches with errors.Is.
type Error struct {
	Kind error
	// Subject names the layer or derived output, when there is one.
	Subject string
	Path    string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Subject != "" {
		msg = e.Subject + ": " + msg
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, subject, path string, err error) *Error {
	return &Error{Kind: kind, Subject: subject, Path: path, Err: err}
}

// ExitCode maps an error chain to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, ErrMissingRequiredLayer):
		return ExitMissingDefault
	case errors.Is(err, ErrParse):
		return ExitParse
	case errors.Is(err, ErrDerivedOutput):
		return ExitDerivedOutput
	case errors.Is(err, ErrWrite):
		return ExitWrite
	case errors.Is(err, ErrRead):
		return ExitRead
	default:
		return ExitUsage
	}
}
