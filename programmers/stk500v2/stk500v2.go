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

// Package stk500v2 implements the STK500 version 2 protocol used by the
// wiring bootloader of the ATmega2560 boards.
package stk500v2

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/arduino/avr-fwuploader/indexes/boardindex"
	"github.com/arduino/avr-fwuploader/programmers/serialio"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	messageStart = 0x1b
	token        = 0x0e

	cmdSignOn          = 0x01
	cmdLoadAddress     = 0x06
	cmdEnterProgmode   = 0x10
	cmdLeaveProgmode   = 0x11
	cmdProgramFlashISP = 0x13
	cmdSPIMulti        = 0x1d

	statusCmdOK = 0x00
)

// Programmer speaks STK500v2 over an open connection.
type Programmer struct {
	rw       io.ReadWriter
	timeout  time.Duration
	sequence byte
}

// New returns a Programmer bound to rw. A zero timeout uses the serialio
// default.
func New(rw io.ReadWriter, timeout time.Duration) *Programmer {
	return &Programmer{rw: rw, timeout: timeout}
}

// frame builds a message: start, sequence, big endian size, token, body and
// the XOR of all the previous bytes.
func frame(seq byte, body []byte) []byte {
	msg := []byte{messageStart, seq, byte(len(body) >> 8), byte(len(body)), token}
	msg = append(msg, body...)
	var sum byte
	for _, b := range msg {
		sum ^= b
	}
	return append(msg, sum)
}

// command sends body and returns the answer body after checking that it
// echoes the command and reports STATUS_CMD_OK.
func (p *Programmer) command(ctx context.Context, body []byte) ([]byte, error) {
	seq := p.sequence
	p.sequence++
	if err := serialio.WriteAll(p.rw, frame(seq, body)); err != nil {
		return nil, err
	}

	head := make([]byte, 5)
	if err := serialio.ReadFull(ctx, p.rw, head, p.timeout); err != nil {
		return nil, err
	}
	if head[0] != messageStart || head[4] != token {
		return nil, errors.Errorf("command 0x%02x: malformed reply header %x", body[0], head)
	}
	if head[1] != seq {
		return nil, errors.Errorf("command 0x%02x: sequence mismatch, sent %d got %d", body[0], seq, head[1])
	}
	size := int(head[2])<<8 | int(head[3])
	rest := make([]byte, size+1)
	if err := serialio.ReadFull(ctx, p.rw, rest, p.timeout); err != nil {
		return nil, err
	}
	var sum byte
	for _, b := range head {
		sum ^= b
	}
	for _, b := range rest {
		sum ^= b
	}
	if sum != 0 {
		return nil, errors.Errorf("command 0x%02x: bad reply checksum", body[0])
	}
	reply := rest[:size]
	if size < 2 || reply[0] != body[0] {
		return nil, errors.Errorf("command 0x%02x: unexpected reply %x", body[0], reply)
	}
	if reply[1] != statusCmdOK {
		return nil, errors.Errorf("command 0x%02x: failed with status 0x%02x", body[0], reply[1])
	}
	return reply[2:], nil
}

// Sync sends SIGN_ON up to attempts times.
func (p *Programmer) Sync(ctx context.Context, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		serialio.Drain(p.rw)
		var reply []byte
		if reply, err = p.command(ctx, []byte{cmdSignOn}); err == nil {
			if len(reply) > 0 {
				logrus.Debugf("Signed on to %q", reply[1:])
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logrus.Debugf("Sign on attempt %d failed: %s", i, err)
	}
	err = errors.Wrapf(err, "no sync after %d attempts", attempts)
	logrus.Error(err)
	return err
}

// ReadSignature reads the chip signature bytes with SPI_MULTI.
func (p *Programmer) ReadSignature(ctx context.Context, size int) ([]byte, error) {
	sig := make([]byte, size)
	for i := range sig {
		reply, err := p.command(ctx, []byte{cmdSPIMulti, 4, 4, 0, 0x30, 0x00, byte(i), 0x00})
		if err != nil {
			return nil, errors.Wrapf(err, "reading signature byte %d", i)
		}
		if len(reply) < 4 {
			return nil, errors.Errorf("short SPI reply %x", reply)
		}
		sig[i] = reply[3]
	}
	return sig, nil
}

// VerifySignature checks the chip signature against expected.
func (p *Programmer) VerifySignature(ctx context.Context, expected []byte) error {
	sig, err := p.ReadSignature(ctx, len(expected))
	if err != nil {
		logrus.Error(err)
		return err
	}
	if !bytes.Equal(sig, expected) {
		err = errors.Errorf("signature mismatch: expected %x, got %x", expected, sig)
		logrus.Error(err)
		return err
	}
	return nil
}

// EnterProgrammingMode sends ENTER_PROGMODE_ISP with the board parameters.
func (p *Programmer) EnterProgrammingMode(ctx context.Context, board *boardindex.Board) error {
	isp := board.ISP
	body := []byte{
		cmdEnterProgmode,
		isp.Timeout, isp.StabDelay, isp.CmdexeDelay, isp.SynchLoops,
		isp.ByteDelay, isp.PollValue, isp.PollIndex,
		0xac, 0x53, 0x00, 0x00,
	}
	if _, err := p.command(ctx, body); err != nil {
		err = errors.Wrap(err, "entering programming mode")
		logrus.Error(err)
		return err
	}
	return nil
}

func (p *Programmer) loadAddress(ctx context.Context, byteAddress int, extended bool) error {
	word := uint32(byteAddress >> 1)
	if extended {
		word |= 1 << 31
	}
	body := []byte{cmdLoadAddress, byte(word >> 24), byte(word >> 16), byte(word >> 8), byte(word)}
	if _, err := p.command(ctx, body); err != nil {
		return errors.Wrapf(err, "loading address 0x%05x", byteAddress)
	}
	return nil
}

// Upload writes data page by page starting at address 0.
func (p *Programmer) Upload(ctx context.Context, data []byte, pageSize int) error {
	if pageSize <= 0 {
		return errors.Errorf("invalid page size %d", pageSize)
	}
	extended := len(data) > 0x20000
	for addr := 0; addr < len(data); addr += pageSize {
		page := data[addr:min(addr+pageSize, len(data))]
		if err := p.loadAddress(ctx, addr, extended); err != nil {
			logrus.Error(err)
			return err
		}
		body := []byte{
			cmdProgramFlashISP,
			byte(len(page) >> 8), byte(len(page)),
			0xc1, 0x0a, 0x40, 0x4c, 0x20, 0x00, 0x00,
		}
		if _, err := p.command(ctx, append(body, page...)); err != nil {
			err = errors.Wrapf(err, "programming page at 0x%05x", addr)
			logrus.Error(err)
			return err
		}
		logrus.Debugf("Flashing page: %d%%", (addr+len(page))*100/len(data))
	}
	return nil
}

// ExitProgrammingMode sends LEAVE_PROGMODE_ISP.
func (p *Programmer) ExitProgrammingMode(ctx context.Context) error {
	if _, err := p.command(ctx, []byte{cmdLeaveProgmode, 0x01, 0x01}); err != nil {
		err = errors.Wrap(err, "leaving programming mode")
		logrus.Error(err)
		return err
	}
	return nil
}
