// Package apierror defines the error type exchanged between the tile service
// and its clients. It carries an HTTP status code so that callers can tell
// transient failures from permanent ones.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is the type of error returned by the tile service client. It contains
// an HTTP status code so that callers can interpret the error message.
type Error struct {
	err    error
	status int
}

// ErrorMessage is the wire form of an Error.
type ErrorMessage struct {
	Message string `json:",omitempty"`
	Status  int    `json:",omitempty"`
}

func New(err error, status int) *Error {
	return &Error{
		err:    err,
		status: status,
	}
}

// FromResponse builds an error from an HTTP response status and body. A
// non-JSON body becomes the error text as-is.
func FromResponse(status int, body []byte) error {
	var err error
	text := strings.TrimSpace(string(body))
	if text != "" {
		err = errors.New(text)
	}
	if status == 0 {
		return err
	}
	return New(err, status)
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	if e.status == 0 {
		return ""
	}
	if text := http.StatusText(e.status); text != "" {
		return fmt.Sprintf("%d %s", e.status, text)
	}
	return fmt.Sprintf("%d", e.status)
}

func (e *Error) Status() int {
	return e.status
}

func (e *Error) Unwrap() error {
	return e.err
}

// EncodeError returns the JSON wire form of any error.
func EncodeError(err error) []byte {
	if err == nil {
		return nil
	}
	e := ErrorMessage{
		Message: err.Error(),
	}
	var apierr *Error
	if errors.As(err, &apierr) {
		e.Status = apierr.Status()
	}
	data, err := json.Marshal(&e)
	if err != nil {
		return []byte(`{"Message":"` + http.StatusText(http.StatusInternalServerError) + `"}`)
	}
	return data
}

// DecodeError reverses EncodeError.
func DecodeError(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var e ErrorMessage
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("cannot decode error message: %s", err)
	}
	err := errors.New(e.Message)
	if e.Status == 0 {
		return err
	}
	return New(err, e.Status)
}
