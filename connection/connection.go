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

// Package connection owns the open/closed state of a single serial port.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/arduino/avr-fwuploader/utils"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

var (
	// ErrNotReady is returned by an Opener when the device exists, or is
	// about to exist, but can not be opened yet. Freshly re-enumerated USB
	// devices report this for a short while.
	ErrNotReady = errors.New("serial port not ready")
	// ErrAlreadyOpen is returned when opening an open Connection.
	ErrAlreadyOpen = errors.New("serial port already open")
	// ErrClosed is returned by any I/O on a closed Connection.
	ErrClosed = errors.New("serial port closed")
)

// readTimeout bounds every read: drivers see a zero length read and decide
// whether that is a protocol timeout.
const readTimeout = time.Second

// Transport is the subset of serial.Port used by the uploader.
type Transport interface {
	io.ReadWriteCloser
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
}

// Opener opens the transport behind a Connection.
type Opener func(path string, baudRate int) (Transport, error)

// SerialOpener opens a real serial port.
func SerialOpener(path string, baudRate int) (Transport, error) {
	port, err := serial.Open(path, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		if notReady(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotReady, err)
		}
		return nil, err
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		err = fmt.Errorf("could not set timeout on serial port: %s", err)
		logrus.Error(err)
		return nil, err
	}
	return port, nil
}

// notReady tells apart the open failures of a device node still being
// created or configured by the OS.
func notReady(err error) bool {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortBusy, serial.PortNotFound, serial.PermissionDenied:
			return true
		}
	}
	return errors.Is(err, fs.ErrNotExist)
}

// Connection is a serial port together with the baud rate it is opened at.
// A Connection is owned by a single goroutine.
type Connection struct {
	Path     string
	BaudRate int

	opener Opener
	port   Transport
}

// New creates a closed Connection. If opener is nil the SerialOpener is used.
func New(path string, baudRate int, opener Opener) *Connection {
	if opener == nil {
		opener = SerialOpener
	}
	return &Connection{
		Path:     path,
		BaudRate: baudRate,
		opener:   opener,
	}
}

// Open opens the port. Opening an open Connection is an error.
func (c *Connection) Open() error {
	if c.port != nil {
		return ErrAlreadyOpen
	}
	port, err := c.opener(c.Path, c.BaudRate)
	if err != nil {
		return err
	}
	c.port = port
	logrus.Debugf("Opened port %s at %d", c.Path, c.BaudRate)
	return nil
}

// IsOpen returns true if the port is open.
func (c *Connection) IsOpen() bool {
	return c.port != nil
}

// Close closes the port. Closing a closed Connection does nothing, errors
// from the underlying transport are logged and dropped.
func (c *Connection) Close() error {
	if c.port == nil {
		return nil
	}
	if err := c.port.Close(); err != nil {
		logrus.Debugf("Closing port %s: %s", c.Path, err)
	}
	c.port = nil
	logrus.Debugf("Closed port %s", c.Path)
	return nil
}

// SetControlLines sets both DTR and RTS to assert and then waits for hold.
// The hold is part of the operation: the lines are guaranteed to have kept
// their state for hold when SetControlLines returns.
func (c *Connection) SetControlLines(ctx context.Context, assert bool, hold time.Duration) error {
	if c.port == nil {
		return ErrClosed
	}
	if err := c.port.SetDTR(assert); err != nil {
		return fmt.Errorf("setting DTR to %v: %w", assert, err)
	}
	if err := c.port.SetRTS(assert); err != nil {
		return fmt.Errorf("setting RTS to %v: %w", assert, err)
	}
	return utils.Sleep(ctx, hold)
}

// Read implements io.Reader
func (c *Connection) Read(p []byte) (int, error) {
	if c.port == nil {
		return 0, ErrClosed
	}
	return c.port.Read(p)
}

// Write implements io.Writer
func (c *Connection) Write(p []byte) (int, error) {
	if c.port == nil {
		return 0, ErrClosed
	}
	return c.port.Write(p)
}
