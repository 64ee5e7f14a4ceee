/*
	avr-fwuploader
	Copyright (c) 2024 Arduino LLC.  All right reserved.

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package errcode classifies the failures an upload job can end with.
package errcode

import (
	"errors"
	"fmt"
)

// Kind is the category of a terminal upload failure.
type Kind int

const (
	// Unknown is returned by KindOf for nil or unclassified errors.
	Unknown Kind = iota
	// Configuration errors (unknown board, missing port) are fatal and
	// raised before any I/O.
	Configuration
	// DeviceNotFound errors mean no matching port was found, either by the
	// sniffer or by the reacquirer after a reset.
	DeviceNotFound
	// Transport errors are I/O failures on the serial link.
	Transport
	// Protocol errors are reported by a bootloader driver: bad handshake,
	// signature mismatch, programming failure.
	Protocol
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case DeviceNotFound:
		return "device not found"
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error carries a Kind, the operation that failed and its cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	// keep the innermost classification
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Configurationf builds a Configuration error from a format string.
func Configurationf(op, format string, args ...interface{}) error {
	return &Error{Kind: Configuration, Op: op, Err: fmt.Errorf(format, args...)}
}

// DeviceNotFoundf builds a DeviceNotFound error from a format string.
func DeviceNotFoundf(op, format string, args ...interface{}) error {
	return &Error{Kind: DeviceNotFound, Op: op, Err: fmt.Errorf(format, args...)}
}

// WrapTransport classifies err as a Transport error unless it is already
// classified. A nil err yields nil.
func WrapTransport(op string, err error) error {
	return newError(Transport, op, err)
}

// WrapProtocol classifies err as a Protocol error unless it is already
// classified. A nil err yields nil.
func WrapProtocol(op string, err error) error {
	return newError(Protocol, op, err)
}

// KindOf returns the Kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
