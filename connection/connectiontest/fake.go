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

// Package connectiontest provides an in-memory serial transport that
// records every call made on it.
package connectiontest

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/arduino/avr-fwuploader/connection"
)

// Event is a single recorded transport call.
type Event struct {
	Op    string // "open", "close", "dtr", "rts", "write"
	Path  string
	Baud  int
	Value bool
	Data  []byte
	At    time.Time
}

// Fake is a set of in-memory serial ports.
type Fake struct {
	// OpenHook, if set, is called before every open; a non nil error fails
	// the open.
	OpenHook func(path string, baud int) error
	// LineHook, if set, is called on every DTR/RTS change; a non nil error
	// fails the call.
	LineHook func(path string, op string, value bool) error
	// Device, if set, is called on every open and returns the device the
	// port talks to; a nil device reads nothing and swallows writes.
	Device func(path string, baud int) io.ReadWriter

	mu      sync.Mutex
	events  []Event
	open    int
	maxOpen int
}

// Opener returns a connection.Opener creating ports on f.
func (f *Fake) Opener() connection.Opener {
	return func(path string, baud int) (connection.Transport, error) {
		if f.OpenHook != nil {
			if err := f.OpenHook(path, baud); err != nil {
				return nil, err
			}
		}
		var dev io.ReadWriter
		if f.Device != nil {
			dev = f.Device(path, baud)
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, Event{Op: "open", Path: path, Baud: baud, At: time.Now()})
		f.open++
		if f.open > f.maxOpen {
			f.maxOpen = f.open
		}
		return &port{fake: f, path: path, baud: baud, dev: dev}, nil
	}
}

func (f *Fake) record(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.At = time.Now()
	f.events = append(f.events, e)
}

// Events returns a copy of the recorded events.
func (f *Fake) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

// Ops returns the recorded events filtered by op.
func (f *Fake) Ops(op string) []Event {
	res := []Event{}
	for _, e := range f.Events() {
		if e.Op == op {
			res = append(res, e)
		}
	}
	return res
}

// OpenPorts returns the number of ports currently open.
func (f *Fake) OpenPorts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// MaxOpenPorts returns the highest number of ports open at the same time.
func (f *Fake) MaxOpenPorts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxOpen
}

type port struct {
	fake   *Fake
	path   string
	baud   int
	dev    io.ReadWriter
	closed bool
}

var errClosed = errors.New("fake port closed")

func (p *port) Read(b []byte) (int, error) {
	if p.closed {
		return 0, errClosed
	}
	if p.dev != nil {
		return p.dev.Read(b)
	}
	return 0, nil
}

func (p *port) Write(b []byte) (int, error) {
	if p.closed {
		return 0, errClosed
	}
	p.fake.record(Event{Op: "write", Path: p.path, Baud: p.baud, Data: append([]byte(nil), b...)})
	if p.dev != nil {
		return p.dev.Write(b)
	}
	return len(b), nil
}

func (p *port) Close() error {
	if p.closed {
		return errClosed
	}
	p.closed = true
	p.fake.record(Event{Op: "close", Path: p.path, Baud: p.baud})
	p.fake.mu.Lock()
	p.fake.open--
	p.fake.mu.Unlock()
	return nil
}

func (p *port) setLine(op string, value bool) error {
	if p.closed {
		return errClosed
	}
	if p.fake.LineHook != nil {
		if err := p.fake.LineHook(p.path, op, value); err != nil {
			return err
		}
	}
	p.fake.record(Event{Op: op, Path: p.path, Baud: p.baud, Value: value})
	return nil
}

func (p *port) SetDTR(v bool) error { return p.setLine("dtr", v) }
func (p *port) SetRTS(v bool) error { return p.setLine("rts", v) }
