// Error codes shared by the plotter packages
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an Error.
type Code string

const (
	ErrConfigOption     Code = "CONFIG_OPTION"
	ErrConfigValidation Code = "CONFIG_VALIDATION"
	ErrConfigLoad       Code = "CONFIG_LOAD"

	ErrTransportOpen  Code = "TRANSPORT_OPEN"
	ErrTransportRead  Code = "TRANSPORT_READ"
	ErrTransportWrite Code = "TRANSPORT_WRITE"

	ErrQueueClosed Code = "QUEUE_CLOSED"

	ErrHomingTimeout  Code = "HOMING_TIMEOUT"
	ErrHomingNotFound Code = "HOMING_NOT_FOUND"

	ErrActuator    Code = "ACTUATOR"
	ErrRuntime     Code = "RUNTIME"
	ErrRuntimeInit Code = "RUNTIME_INIT"
)

// Error is a coded failure, optionally tied to an axis and wrapping a
// cause. Attributes travel with it into structured log lines.
type Error struct {
	Code Code
	Axis string
	Msg  string
	Err  error

	attrs map[string]any
}

func (e *Error) Error() string {
	tag := string(e.Code)
	if e.Axis != "" {
		tag += ":" + e.Axis
	}
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", tag, e.Msg)
	}
	return fmt.Sprintf("[%s] %s: %v", tag, e.Msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// SetAxis ties the error to an axis.
func (e *Error) SetAxis(axis string) *Error {
	e.Axis = axis
	return e
}

// With records a log attribute.
func (e *Error) With(key string, value any) *Error {
	if e.attrs == nil {
		e.attrs = make(map[string]any, 2)
	}
	e.attrs[key] = value
	return e
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

func ConfigValidationError(section, option, reason string) *Error {
	return New(ErrConfigValidation, fmt.Sprintf("[%s] %s: %s", section, option, reason)).
		With("section", section).
		With("option", option)
}

// TransportError wraps an I/O failure on the command link.
func TransportError(code Code, device string, err error) *Error {
	return Wrap(err, code, "transport "+device).With("device", device)
}

func HomingTimeoutError(axis string, err error) *Error {
	return Wrap(err, ErrHomingTimeout, "homing did not complete").SetAxis(axis)
}

// HomingNotFoundError reports an axis that used up its travel without
// reaching the endstop.
func HomingNotFoundError(axis string, travel float64) *Error {
	msg := fmt.Sprintf("endstop not reached within %.2f units of travel", travel)
	return New(ErrHomingNotFound, msg).SetAxis(axis).With("travel", travel)
}

func RuntimeErrorInit(component, reason string) *Error {
	return New(ErrRuntimeInit, fmt.Sprintf("failed to initialize %s: %s", component, reason)).
		With("component", component)
}

// RecoverPanic turns a recovered panic value into a RUNTIME error. Pass it
// recover() from a deferred function.
func RecoverPanic(r any) *Error {
	switch x := r.(type) {
	case nil:
		return nil
	case error:
		return Wrap(x, ErrRuntime, "panic")
	default:
		return New(ErrRuntime, fmt.Sprintf("panic: %v", x))
	}
}

// Is reports whether any coded error in err's chain carries code.
func Is(err error, code Code) bool {
	var e *Error
	for stderrors.As(err, &e) {
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

func IsHoming(err error) bool {
	return Is(err, ErrHomingTimeout) || Is(err, ErrHomingNotFound)
}

func IsTransport(err error) bool {
	return Is(err, ErrTransportOpen) || Is(err, ErrTransportRead) || Is(err, ErrTransportWrite)
}

// Attrs collects code, axis and attributes from every coded error in
// err's chain. Outer errors win on key clashes.
func Attrs(err error) map[string]any {
	out := make(map[string]any)
	var e *Error
	for stderrors.As(err, &e) {
		if _, ok := out["code"]; !ok {
			out["code"] = string(e.Code)
		}
		if _, ok := out["axis"]; !ok && e.Axis != "" {
			out["axis"] = e.Axis
		}
		for k, v := range e.attrs {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
		err = e.Err
	}
	return out
}
