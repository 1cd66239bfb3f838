package logging

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Stacktrace is the log field holding the stack of a logged error.
const Stacktrace = "stacktrace"

// Unexported but considered part of the stable interface of pkg/errors.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// Unexported but considered part of the stable interface of pkg/errors.
type causer interface {
	Cause() error
}

type wrapper interface {
	Unwrap() error
}

// WithStacktrace adds err and, when one can be found, its stack to logger.
func WithStacktrace(logger *logrus.Entry, err error) *logrus.Entry {
	logger = logger.WithError(err)
	if stack := ExtractStack(err); stack != nil {
		logger = logger.WithField(Stacktrace, stack)
	}
	return logger
}

// ExtractStack returns the first stack trace found in the chain of err, or nil.
// Combined errors are searched in the order they were appended.
func ExtractStack(err error) errors.StackTrace {
	switch e := err.(type) {
	case nil:
		return nil
	case stackTracer:
		return e.StackTrace()
	case *multierror.Error:
		for _, inner := range e.Errors {
			if stack := ExtractStack(inner); stack != nil {
				return stack
			}
		}
		return nil
	case causer:
		return ExtractStack(e.Cause())
	case wrapper:
		return ExtractStack(e.Unwrap())
	}
	return nil
}
