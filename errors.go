package ats

import (
	"errors"
	"strings"
)

var (
	// ErrNotAuthenticated is returned when an intent needs an Identity and none is set.
	ErrNotAuthenticated = errors.New("ats: not authenticated")

	// ErrNoCompanySelected is returned when an intent needs a CurrentCompany.
	ErrNoCompanySelected = errors.New("ats: no company selected")

	// ErrNotAuthorized is returned when no admin or agent link grants access.
	ErrNotAuthorized = errors.New("ats: not authorized for company")

	// ErrNotFound is returned by single-row reads that match nothing.
	ErrNotFound = errors.New("ats: not found")

	// ErrSuperseded marks a result discarded because newer state replaced the
	// state it was issued for.
	ErrSuperseded = errors.New("ats: superseded by newer state")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned when input is rejected before any remote call.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "ats: invalid input: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
