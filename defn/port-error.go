/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package defn

import (
	"errors"

	"code.hybscloud.com/iox"
)

// PortErrorCode is the symbolic outcome of an operation on a port.
type PortErrorCode int

// Port error codes.
const (
	Success PortErrorCode = iota
	WouldBlock
	TimedOut
	NotConnected
	ConnectionAborted
	NoBufferSpaceAvailable
	Fault
	InvalidArgument
)

func (c PortErrorCode) String() string {
	switch c {
	case Success:
		return "Success"
	case WouldBlock:
		return "WouldBlock"
	case TimedOut:
		return "TimedOut"
	case NotConnected:
		return "NotConnected"
	case ConnectionAborted:
		return "ConnectionAborted"
	case NoBufferSpaceAvailable:
		return "NoBufferSpaceAvailable"
	case Fault:
		return "Fault"
	case InvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// PortError is a transport fault reported on a port.
type PortError struct {
	Code PortErrorCode
	Err  error
}

// MakePortError constructs a port error with an optional cause.
func MakePortError(code PortErrorCode, err error) *PortError {
	return &PortError{Code: code, Err: err}
}

func (e *PortError) Error() string {
	if e.Err != nil {
		return "port error " + e.Code.String() + ": " + e.Err.Error()
	}
	return "port error " + e.Code.String()
}

func (e *PortError) Unwrap() error {
	return e.Err
}

// Is makes WouldBlock errors match iox.ErrWouldBlock and port errors match by code.
func (e *PortError) Is(target error) bool {
	if e.Code == WouldBlock && target == iox.ErrWouldBlock {
		return true
	}
	if other, ok := target.(*PortError); ok {
		return other.Code == e.Code
	}
	return false
}

// PortErrorCodeOf extracts the code of a port error, Success for nil and Fault for anything else.
func PortErrorCodeOf(err error) PortErrorCode {
	if err == nil {
		return Success
	}
	var pe *PortError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return Fault
}
