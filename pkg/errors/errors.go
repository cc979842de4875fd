package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// New returns an error with the message and the caller stack attached.
func New(message string) error {
	return errors.New(message)
}

// Errorf formats according to a format specifier and attaches the caller stack.
func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Wrap annotates err with message and a stack; nil stays nil.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf annotates err with a formatted message and a stack; nil stays nil.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// WithStack annotates err with the caller stack; nil stays nil.
func WithStack(err error) error {
	return errors.WithStack(err)
}

// Cause returns the innermost error of a pkg/errors chain.
func Cause(err error) error {
	return errors.Cause(err)
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// NewWithReport creates an error and hands it to the registered reporters.
func NewWithReport(message string) error {
	err := errors.New(message)
	report(err)
	return err
}

// ErrorfAndReport creates a formatted error and hands it to the registered reporters.
func ErrorfAndReport(format string, args ...interface{}) error {
	err := errors.Errorf(format, args...)
	report(err)
	return err
}

// WrapAndReport wraps err and hands it to the registered reporters.
func WrapAndReport(err error, message string) error {
	if err == nil {
		return nil
	}
	err = errors.Wrap(err, message)
	report(err)
	return err
}

// WithStackAndReport attaches a stack to err and hands it to the registered reporters.
func WithStackAndReport(err error) error {
	if err == nil {
		return nil
	}
	err = errors.WithStack(err)
	report(err)
	return err
}

const maxStackDepth = 32

type stack []uintptr

func callers() stack {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(3, pcs)
	return pcs[:n]
}

// fullStack renders one "function file:line" entry per frame, runtime frames excluded.
func (s stack) fullStack() []string {
	frames := runtime.CallersFrames(s)
	out := make([]string, 0, len(s))
	for {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, "runtime.") {
			out = append(out, fmt.Sprintf("%s %s:%d", f.Function, f.File, f.Line))
		}
		if !more {
			break
		}
	}
	return out
}

// reportKey picks the frame used to group repeated errors by origin.
func reportKey(stacks []string) string {
	switch {
	case len(stacks) > 2:
		return stacks[2]
	case len(stacks) > 0:
		return stacks[len(stacks)-1]
	default:
		return ""
	}
}
