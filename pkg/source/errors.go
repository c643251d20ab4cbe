package source

import (
	"errors"
	"fmt"
)

// ErrBodyTooLarge is wrapped by FetchError when the body exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body too large")

// ErrorClass represents a classification of fetch errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport errors, timeouts and cancellation.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents bodies that are not a valid record list.
	ErrorClassDecode ErrorClass = "decode"
)

// FetchError is returned by Source.Fetch.
type FetchError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("fetch %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP error status to its class.
func classifyStatus(status int) ErrorClass {
	if status >= 500 {
		return ErrorClassServer
	}
	return ErrorClassClient
}
