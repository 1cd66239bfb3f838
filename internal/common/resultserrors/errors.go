// Package resultserrors contains generic errors returned by the result pipeline and its collaborators.
//
// If multiple errors occur in some function (e.g., if several notifiers fail for one packet), that
// function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package resultserrors

import (
	"fmt"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "sampleBudget"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message, e.g., explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for field %q", err.Value, err.Name)
	} else {
		return fmt.Sprintf("value %v is invalid for field %q; %s", err.Value, err.Name, err.Message)
	}
}

// ErrNotFound is a generic error to be returned when some resource could not be found.
type ErrNotFound struct {
	Type  string // Resource type, e.g., "result" or "log"
	Value string // Resource name, e.g., "1/2/run.json"
}

func (err *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q does not exist", err.Type, err.Value)
}

// ErrAlreadyFinalised is returned when the final result of a run is requested more than once.
type ErrAlreadyFinalised struct {
	RunId string
}

func (err *ErrAlreadyFinalised) Error() string {
	return fmt.Sprintf("final result for run %s has already been sent", err.RunId)
}

// ErrNotFinished is returned when the final result is requested while the dispatcher is still running.
type ErrNotFinished struct {
	RunId string
	State string
}

func (err *ErrNotFinished) Error() string {
	return fmt.Sprintf("dispatcher for run %s is %s; request a stop and wait for it to finish first", err.RunId, err.State)
}

// ErrPayloadTooLarge is returned when a packet cannot be made to fit a size-constrained channel.
type ErrPayloadTooLarge struct {
	What  string
	Size  int
	Limit int
}

func (err *ErrPayloadTooLarge) Error() string {
	return fmt.Sprintf("%s is %d bytes which exceeds the limit of %d bytes", err.What, err.Size, err.Limit)
}

// IsNetworkError returns true if err is a network error.
func IsNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsRetryableRedisError is largely taken from https://github.com/go-redis/redis/blob/master/error.go#L28
func IsRetryableRedisError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	if s == "ERR max number of clients reached" {
		return true
	}
	for _, prefix := range []string{"LOADING ", "READONLY ", "CLUSTERDOWN ", "TRYAGAIN "} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
