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

// Package avr109 implements the AVR109 protocol spoken by the Caterina
// bootloader of the native USB boards.
package avr109

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/arduino/avr-fwuploader/programmers/serialio"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	replyOK  = '\r'
	replyYes = 'Y'
	memFlash = 'F'
)

// Options configures a session.
type Options struct {
	// Signature is the expected software identifier, "CATERIN" for Caterina.
	// An empty signature skips the check.
	Signature []byte
	// Debug traces every command sent to the bootloader.
	Debug bool
	// Timeout is the reply timeout of a single command, flash writes wait
	// without one.
	Timeout time.Duration
}

type command struct {
	name  string
	tx    []byte
	rxLen int
	check func(rx []byte) error
	// wait disables the reply timeout, the command ends with its context.
	wait bool
}

func expectCR(rx []byte) error {
	if rx[0] != replyOK {
		return errors.Errorf("expected carriage return, got 0x%02x", rx[0])
	}
	return nil
}

// Session is an initialized bootloader in programming mode. Erase,
// Program and Verify feed a command queue whose length is reported by
// Pending.
type Session struct {
	rw        io.ReadWriter
	opts      Options
	blockSize int
	pending   atomic.Int64
}

// Init identifies the bootloader, reads its block size and enters
// programming mode.
func Init(ctx context.Context, rw io.ReadWriter, opts Options) (*Session, error) {
	s := &Session{rw: rw, opts: opts}
	serialio.Drain(rw)

	id, err := s.exec(ctx, command{name: "software id", tx: []byte{'S'}, rxLen: 7})
	if err != nil {
		logrus.Error(err)
		return nil, err
	}
	if len(opts.Signature) > 0 && !bytes.Equal(id, opts.Signature) {
		err = errors.Errorf("signature mismatch: expected %q, got %q", opts.Signature, id)
		logrus.Error(err)
		return nil, err
	}
	version, err := s.exec(ctx, command{name: "software version", tx: []byte{'V'}, rxLen: 2})
	if err != nil {
		logrus.Error(err)
		return nil, err
	}
	logrus.Debugf("Bootloader %s version %c.%c", id, version[0], version[1])

	if _, err := s.exec(ctx, command{name: "auto increment", tx: []byte{'a'}, rxLen: 1, check: func(rx []byte) error {
		if rx[0] != replyYes {
			return errors.New("bootloader does not support address auto increment")
		}
		return nil
	}}); err != nil {
		logrus.Error(err)
		return nil, err
	}
	block, err := s.exec(ctx, command{name: "block support", tx: []byte{'b'}, rxLen: 3, check: func(rx []byte) error {
		if rx[0] != replyYes {
			return errors.New("bootloader does not support block mode")
		}
		return nil
	}})
	if err != nil {
		logrus.Error(err)
		return nil, err
	}
	s.blockSize = int(block[1])<<8 | int(block[2])
	if s.blockSize == 0 {
		err = errors.New("bootloader reports zero block size")
		logrus.Error(err)
		return nil, err
	}
	if _, err := s.exec(ctx, command{name: "enter programming mode", tx: []byte{'P'}, rxLen: 1, check: expectCR}); err != nil {
		logrus.Error(err)
		return nil, err
	}
	return s, nil
}

// BlockSize returns the buffer size reported by the bootloader.
func (s *Session) BlockSize() int {
	return s.blockSize
}

// Pending returns the number of queued commands not yet acknowledged.
func (s *Session) Pending() int {
	return int(s.pending.Load())
}

func (s *Session) exec(ctx context.Context, c command) ([]byte, error) {
	if s.opts.Debug {
		logrus.Debugf("avr109 > %s", c.name)
	}
	if err := serialio.WriteAll(s.rw, c.tx); err != nil {
		return nil, errors.Wrap(err, c.name)
	}
	timeout := s.opts.Timeout
	if c.wait {
		timeout = serialio.NoTimeout
	}
	rx := make([]byte, c.rxLen)
	if err := serialio.ReadFull(ctx, s.rw, rx, timeout); err != nil {
		return nil, errors.Wrap(err, c.name)
	}
	if c.check != nil {
		if err := c.check(rx); err != nil {
			return nil, errors.Wrap(err, c.name)
		}
	}
	return rx, nil
}

// run executes the queue in order, the pending count drops as each command
// is acknowledged.
func (s *Session) run(ctx context.Context, queue []command) error {
	s.pending.Store(int64(len(queue)))
	for _, c := range queue {
		if _, err := s.exec(ctx, c); err != nil {
			logrus.Error(err)
			return err
		}
		s.pending.Add(-1)
	}
	return nil
}

func setAddress(byteAddress int) command {
	word := byteAddress >> 1
	return command{name: "set address", tx: []byte{'A', byte(word >> 8), byte(word)}, rxLen: 1, check: expectCR}
}

func (s *Session) blocks(data []byte, fn func(addr int, block []byte)) {
	for addr := 0; addr < len(data); addr += s.blockSize {
		fn(addr, data[addr:min(addr+s.blockSize, len(data))])
	}
}

// Erase erases the whole application flash.
func (s *Session) Erase(ctx context.Context) error {
	return s.run(ctx, []command{{name: "chip erase", tx: []byte{'e'}, rxLen: 1, check: expectCR}})
}

// Program writes data block by block starting at address 0. Flash writes
// have no reply timeout: Program waits for each acknowledgement until ctx
// is done, callers watch Pending to decide when the bootloader is stuck.
func (s *Session) Program(ctx context.Context, data []byte) error {
	var queue []command
	s.blocks(data, func(addr int, block []byte) {
		tx := append([]byte{'B', byte(len(block) >> 8), byte(len(block)), memFlash}, block...)
		address := setAddress(addr)
		address.wait = true
		queue = append(queue,
			address,
			command{name: "write block", tx: tx, rxLen: 1, check: expectCR, wait: true})
	})
	return s.run(ctx, queue)
}

// Verify reads back the flash and compares it with data.
func (s *Session) Verify(ctx context.Context, data []byte) error {
	var queue []command
	s.blocks(data, func(addr int, block []byte) {
		queue = append(queue,
			setAddress(addr),
			command{
				name:  "read block",
				tx:    []byte{'g', byte(len(block) >> 8), byte(len(block)), memFlash},
				rxLen: len(block),
				check: func(rx []byte) error {
					if !bytes.Equal(rx, block) {
						return errors.Errorf("verification failed for block at 0x%04x", addr)
					}
					return nil
				},
			})
	})
	return s.run(ctx, queue)
}

// FuseCheck reads fuses and lock bits, then leaves programming mode and
// exits the bootloader.
func (s *Session) FuseCheck(ctx context.Context) error {
	fuses := map[byte]string{'F': "low fuse", 'N': "high fuse", 'Q': "extended fuse", 'r': "lock bits"}
	var queue []command
	for _, cmd := range []byte{'F', 'N', 'Q', 'r'} {
		name := fuses[cmd]
		queue = append(queue, command{name: "read " + name, tx: []byte{cmd}, rxLen: 1, check: func(rx []byte) error {
			logrus.Debugf("%s: 0x%02x", name, rx[0])
			return nil
		}})
	}
	queue = append(queue,
		command{name: "leave programming mode", tx: []byte{'L'}, rxLen: 1, check: expectCR},
		command{name: "exit bootloader", tx: []byte{'E'}, rxLen: 1, check: expectCR})
	return s.run(ctx, queue)
}
