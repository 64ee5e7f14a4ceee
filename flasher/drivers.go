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

package flasher

import (
	"context"
	"io"
	"time"

	"github.com/arduino/avr-fwuploader/hexfile"
	"github.com/arduino/avr-fwuploader/indexes/boardindex"
	"github.com/arduino/avr-fwuploader/programmers/avr109"
	"github.com/arduino/avr-fwuploader/programmers/stk500v1"
	"github.com/arduino/avr-fwuploader/programmers/stk500v2"
)

// STK500v1 uploads a whole image in a single synchronous call.
type STK500v1 interface {
	Bootload(ctx context.Context, rw io.ReadWriter, image *hexfile.Image, board *boardindex.Board) error
}

// STK500v2 exposes each step of the STK500v2 handshake.
type STK500v2 interface {
	Sync(ctx context.Context, attempts int) error
	VerifySignature(ctx context.Context, signature []byte) error
	EnterProgrammingMode(ctx context.Context, board *boardindex.Board) error
	Upload(ctx context.Context, data []byte, pageSize int) error
	ExitProgrammingMode(ctx context.Context) error
}

// STK500v2Factory binds an STK500v2 driver to an open connection.
type STK500v2Factory func(rw io.ReadWriter, board *boardindex.Board) STK500v2

// AVR109Options are passed to AVR109.Init.
type AVR109Options struct {
	Signature []byte
	Debug     bool
	Timeout   time.Duration
}

// AVR109 initializes an AVR109 session on an open connection.
type AVR109 interface {
	Init(ctx context.Context, rw io.ReadWriter, opts AVR109Options) (AVR109Session, error)
}

// AVR109Session is an initialized AVR109 bootloader. Pending is the length
// of the command queue and must be safe to call while another goroutine is
// running Program.
type AVR109Session interface {
	Erase(ctx context.Context) error
	Program(ctx context.Context, data []byte) error
	Verify(ctx context.Context, data []byte) error
	FuseCheck(ctx context.Context) error
	Pending() int
}

// Drivers groups the protocol drivers used by a Flasher.
type Drivers struct {
	STK500v1 STK500v1
	STK500v2 STK500v2Factory
	AVR109   AVR109
}

// DefaultDrivers returns the drivers in the programmers packages.
func DefaultDrivers() Drivers {
	return Drivers{
		STK500v1: stk500v1.New(),
		STK500v2: func(rw io.ReadWriter, board *boardindex.Board) STK500v2 {
			return stk500v2.New(rw, boardTimeout(board))
		},
		AVR109: avr109Driver{},
	}
}

func boardTimeout(board *boardindex.Board) time.Duration {
	return time.Duration(board.Timeout) * time.Millisecond
}

type avr109Driver struct{}

func (avr109Driver) Init(ctx context.Context, rw io.ReadWriter, opts AVR109Options) (AVR109Session, error) {
	s, err := avr109.Init(ctx, rw, avr109.Options{
		Signature: opts.Signature,
		Debug:     opts.Debug,
		Timeout:   opts.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}
