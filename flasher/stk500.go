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

	"github.com/arduino/avr-fwuploader/errcode"
	"github.com/arduino/avr-fwuploader/reset"
)

// resetOverSerial opens the board port and pulses the control lines, the
// bootloader is listening when it returns.
func (s *session) resetOverSerial(ctx context.Context) error {
	if err := s.enter(ctx, StateConnect); err != nil {
		return err
	}
	conn, err := s.connect(s.port, s.board.BaudRate)
	if err != nil {
		return fail(ctx, "open port", err, errcode.WrapTransport)
	}
	if err := s.enter(ctx, StateReset); err != nil {
		return err
	}
	if err := reset.Hardware(ctx, conn); err != nil {
		return fail(ctx, "reset", err, errcode.WrapTransport)
	}
	return nil
}

// Connect, Reset, Bootload
func uploadSTK500v1(ctx context.Context, s *session) error {
	if err := s.resetOverSerial(ctx); err != nil {
		return err
	}
	if err := s.enter(ctx, StateBootload); err != nil {
		return err
	}
	if err := s.opts.Drivers.STK500v1.Bootload(ctx, s.current, s.job.Image, s.board); err != nil {
		return fail(ctx, "bootload", err, errcode.WrapProtocol)
	}
	return nil
}

// Connect, Reset, Sync, VerifySignature, EnterProgrammingMode, Upload,
// ExitProgrammingMode. The first failing step ends the sequence.
func uploadSTK500v2(ctx context.Context, s *session) error {
	if err := s.resetOverSerial(ctx); err != nil {
		return err
	}
	drv := s.opts.Drivers.STK500v2(s.current, s.board)
	steps := []struct {
		state State
		run   func() error
	}{
		{StateSync, func() error { return drv.Sync(ctx, s.opts.SyncAttempts) }},
		{StateVerifySignature, func() error { return drv.VerifySignature(ctx, s.board.Signature) }},
		{StateEnterProgrammingMode, func() error { return drv.EnterProgrammingMode(ctx, s.board) }},
		{StateUpload, func() error { return drv.Upload(ctx, s.job.Image.Data, s.board.PageSize) }},
		{StateExitProgrammingMode, func() error { return drv.ExitProgrammingMode(ctx) }},
	}
	for _, step := range steps {
		if err := s.enter(ctx, step.state); err != nil {
			return err
		}
		if err := step.run(); err != nil {
			return fail(ctx, step.state.String(), err, errcode.WrapProtocol)
		}
	}
	return nil
}
