package messages

import "github.com/vladiki/Lean/internal/results/model"

// Notification is a discrete event queued by the producer for the dispatcher.
// The set of implementations is closed: Debug, RuntimeError, HandledError and SecurityTypes.
type Notification interface {
	isNotification()
}

type Debug struct {
	Message   string
	ProjectId int
}

// RuntimeError is a fatal error raised by the simulation.
type RuntimeError struct {
	Message    string
	StackTrace string
}

// HandledError is an error the simulation recovered from.
type HandledError struct {
	Message    string
	StackTrace string
}

type SecurityTypes struct {
	Types []model.SecurityType
}

func (Debug) isNotification()         {}
func (RuntimeError) isNotification()  {}
func (HandledError) isNotification()  {}
func (SecurityTypes) isNotification() {}
