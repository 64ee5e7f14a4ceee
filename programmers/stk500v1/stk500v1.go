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

// Package stk500v1 talks to optiboot and the other STK500 version 1
// bootloaders.
package stk500v1

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/arduino/avr-fwuploader/hexfile"
	"github.com/arduino/avr-fwuploader/indexes/boardindex"
	"github.com/arduino/avr-fwuploader/programmers/serialio"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	respOK     = 0x10
	respInSync = 0x14
	crcEOP     = 0x20

	cmdGetSync       = 0x30
	cmdSetDevice     = 0x42
	cmdEnterProgmode = 0x50
	cmdLeaveProgmode = 0x51
	cmdLoadAddress   = 0x55
	cmdProgPage      = 0x64
	cmdReadPage      = 0x74
	cmdReadSign      = 0x75

	memFlash = 'F'
)

// DefaultSyncAttempts is the number of GET_SYNC sent before giving up.
const DefaultSyncAttempts = 3

// Programmer uploads a whole image in one call.
type Programmer struct {
	SyncAttempts int
}

// New returns a Programmer with the default sync attempts.
func New() *Programmer {
	return &Programmer{SyncAttempts: DefaultSyncAttempts}
}

// Bootload runs the complete upload: sync, signature check, device setup,
// page programming, page verification and programming mode exit.
func (p *Programmer) Bootload(ctx context.Context, rw io.ReadWriter, image *hexfile.Image, board *boardindex.Board) error {
	if board.PageSize <= 0 {
		return errors.Errorf("invalid page size %d", board.PageSize)
	}
	s := &session{rw: rw, timeout: time.Duration(board.Timeout) * time.Millisecond}

	if err := s.sync(ctx, p.SyncAttempts); err != nil {
		logrus.Error(err)
		return err
	}
	if err := s.verifySignature(ctx, board.Signature); err != nil {
		logrus.Error(err)
		return err
	}
	if err := s.setDevice(ctx, board); err != nil {
		logrus.Error(err)
		return err
	}
	if _, err := s.command(ctx, []byte{cmdEnterProgmode}, 0); err != nil {
		err = errors.Wrap(err, "entering programming mode")
		logrus.Error(err)
		return err
	}
	if err := s.upload(ctx, image.Data, board.PageSize); err != nil {
		logrus.Error(err)
		return err
	}
	if err := s.verify(ctx, image.Data, board.PageSize); err != nil {
		logrus.Error(err)
		return err
	}
	if _, err := s.command(ctx, []byte{cmdLeaveProgmode}, 0); err != nil {
		err = errors.Wrap(err, "leaving programming mode")
		logrus.Error(err)
		return err
	}
	logrus.Debugf("Bootload of %d bytes completed", image.Len())
	return nil
}

type session struct {
	rw      io.ReadWriter
	timeout time.Duration
}

// command sends cmd terminated by CRC_EOP and reads a reply of replyLen
// bytes framed by INSYNC and OK.
func (s *session) command(ctx context.Context, cmd []byte, replyLen int) ([]byte, error) {
	if err := serialio.WriteAll(s.rw, append(cmd, crcEOP)); err != nil {
		return nil, err
	}
	head := make([]byte, 1)
	if err := serialio.ReadFull(ctx, s.rw, head, s.timeout); err != nil {
		return nil, err
	}
	if head[0] != respInSync {
		return nil, errors.Errorf("command 0x%02x: not in sync, got 0x%02x", cmd[0], head[0])
	}
	reply := make([]byte, replyLen+1)
	if err := serialio.ReadFull(ctx, s.rw, reply, s.timeout); err != nil {
		return nil, err
	}
	if reply[replyLen] != respOK {
		return nil, errors.Errorf("command 0x%02x: expected OK, got 0x%02x", cmd[0], reply[replyLen])
	}
	return reply[:replyLen], nil
}

func (s *session) sync(ctx context.Context, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		serialio.Drain(s.rw)
		if _, err = s.command(ctx, []byte{cmdGetSync}, 0); err == nil {
			logrus.Debugf("In sync after %d attempts", i)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logrus.Debugf("Sync attempt %d failed: %s", i, err)
	}
	return errors.Wrapf(err, "no sync after %d attempts", attempts)
}

func (s *session) verifySignature(ctx context.Context, expected []byte) error {
	sig, err := s.command(ctx, []byte{cmdReadSign}, 3)
	if err != nil {
		return errors.Wrap(err, "reading signature")
	}
	if !bytes.Equal(sig, expected) {
		return errors.Errorf("signature mismatch: expected %x, got %x", expected, sig)
	}
	return nil
}

func (s *session) setDevice(ctx context.Context, board *boardindex.Board) error {
	flashSize := board.PageSize * board.NumPages
	params := []byte{
		cmdSetDevice,
		0x86,       // device code
		0x00,       // revision
		0x00,       // programmer type
		0x01,       // parallel mode
		0x01,       // polling
		0x01,       // self timed
		0x01,       // lock bytes
		0x03,       // fuse bytes
		0xff, 0xff, // flash poll values
		0xff, 0xff, // eeprom poll values
		byte(board.PageSize >> 8), byte(board.PageSize),
		0x04, 0x00, // eeprom size
		byte(flashSize >> 24), byte(flashSize >> 16), byte(flashSize >> 8), byte(flashSize),
	}
	if _, err := s.command(ctx, params, 0); err != nil {
		return errors.Wrap(err, "setting device parameters")
	}
	return nil
}

func (s *session) loadAddress(ctx context.Context, byteAddress int) error {
	word := byteAddress >> 1
	if _, err := s.command(ctx, []byte{cmdLoadAddress, byte(word), byte(word >> 8)}, 0); err != nil {
		return errors.Wrapf(err, "loading address 0x%04x", byteAddress)
	}
	return nil
}

func (s *session) upload(ctx context.Context, data []byte, pageSize int) error {
	for addr := 0; addr < len(data); addr += pageSize {
		page := data[addr:min(addr+pageSize, len(data))]
		if err := s.loadAddress(ctx, addr); err != nil {
			return err
		}
		cmd := append([]byte{cmdProgPage, byte(len(page) >> 8), byte(len(page)), memFlash}, page...)
		if _, err := s.command(ctx, cmd, 0); err != nil {
			return errors.Wrapf(err, "programming page at 0x%04x", addr)
		}
		logrus.Debugf("Flashing page: %d%%", (addr+len(page))*100/len(data))
	}
	return nil
}

func (s *session) verify(ctx context.Context, data []byte, pageSize int) error {
	for addr := 0; addr < len(data); addr += pageSize {
		page := data[addr:min(addr+pageSize, len(data))]
		if err := s.loadAddress(ctx, addr); err != nil {
			return err
		}
		got, err := s.command(ctx, []byte{cmdReadPage, byte(len(page) >> 8), byte(len(page)), memFlash}, len(page))
		if err != nil {
			return errors.Wrapf(err, "reading page at 0x%04x", addr)
		}
		if !bytes.Equal(got, page) {
			return errors.Errorf("verification failed for page at 0x%04x", addr)
		}
	}
	return nil
}
