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
	"errors"
	"fmt"
	"time"

	"github.com/arduino/avr-fwuploader/connection"
	"github.com/arduino/avr-fwuploader/errcode"
	"github.com/arduino/avr-fwuploader/ports"
	"github.com/arduino/avr-fwuploader/reset"
	"github.com/arduino/avr-fwuploader/utils"
	"github.com/sirupsen/logrus"
)

// errStalled aborts an AVR109 attempt whose command queue stopped moving.
var errStalled = errors.New("no progress on write")

// Reset, OpenWithRetry, Init, Erase, Program, Verify, FuseCheck; a stalled
// Program goes back to Reset, up to AVR109Attempts times.
func uploadAVR109(ctx context.Context, s *session) error {
	var err error
	for attempt := 1; attempt <= s.opts.AVR109Attempts; attempt++ {
		if attempt > 1 {
			s.restarts++
			logrus.Warnf("No progress on write, resetting board (try %d of %d)", attempt, s.opts.AVR109Attempts)
		}
		err = s.avr109Attempt(ctx)
		if err == nil {
			s.progress(100)
			return nil
		}
		if !errors.Is(err, errStalled) {
			return err
		}
		s.release()
	}
	return errcode.WrapTransport("program", fmt.Errorf("%w after %d attempts", err, s.opts.AVR109Attempts))
}

func (s *session) avr109Attempt(ctx context.Context) error {
	if err := s.enter(ctx, StateReset); err != nil {
		return err
	}
	// A nil snapshot makes Reacquire poll for the current path, any
	// attached port would look new otherwise.
	before, err := s.opts.Scanner.List()
	if err != nil {
		logrus.Debugf("Listing ports: %s", err)
		before = nil
	} else if before == nil {
		before = []*ports.Port{}
	}
	sentinel := connection.New(s.port, reset.SentinelBaudRate, s.opts.Opener)
	s.replace(sentinel)
	if err := s.seq.Software(ctx, sentinel); err != nil {
		return err
	}
	s.release()

	if err := s.enter(ctx, StateReacquire); err != nil {
		return err
	}
	path, err := s.seq.Reacquire(ctx, s.port, before)
	if err != nil {
		return err
	}
	s.port = path

	if err := s.enter(ctx, StateOpen); err != nil {
		return err
	}
	conn, err := s.openWithRetry(ctx)
	if err != nil {
		return err
	}

	if err := s.enter(ctx, StateInit); err != nil {
		return err
	}
	bootloader, err := s.opts.Drivers.AVR109.Init(ctx, conn, AVR109Options{
		Signature: s.board.Signature,
		Debug:     s.opts.Debug,
		Timeout:   boardTimeout(s.board),
	})
	if err != nil {
		return fail(ctx, "init", err, errcode.WrapProtocol)
	}

	if err := s.enter(ctx, StateErase); err != nil {
		return err
	}
	if err := bootloader.Erase(ctx); err != nil {
		return fail(ctx, "erase", err, errcode.WrapProtocol)
	}

	if err := s.enter(ctx, StateProgram); err != nil {
		return err
	}
	if err := s.program(ctx, bootloader); err != nil {
		if errors.Is(err, errStalled) {
			return err
		}
		return fail(ctx, "program", err, errcode.WrapProtocol)
	}

	if s.opts.SkipAVR109Verify {
		logrus.Debugf("Skipping verify")
	} else {
		if err := s.enter(ctx, StateVerify); err != nil {
			return err
		}
		if err := bootloader.Verify(ctx, s.job.Image.Data); err != nil {
			return fail(ctx, "verify", err, errcode.WrapProtocol)
		}
	}

	if err := s.enter(ctx, StateFuseCheck); err != nil {
		return err
	}
	if err := bootloader.FuseCheck(ctx); err != nil {
		return fail(ctx, "fuse check", err, errcode.WrapProtocol)
	}
	return nil
}

// openWithRetry opens the bootloader port, retrying while the OS reports it
// not ready yet. Retries stop after StallTimeout.
func (s *session) openWithRetry(ctx context.Context) (*connection.Connection, error) {
	deadline := time.Now().Add(s.opts.StallTimeout)
	for {
		conn, err := s.connect(s.port, s.board.BaudRate)
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, connection.ErrNotReady) || time.Now().After(deadline) {
			return nil, fail(ctx, "open port", err, errcode.WrapTransport)
		}
		logrus.Debugf("Port %s not ready, retrying in %s", s.port, s.opts.OpenRetryDelay)
		if err := utils.Sleep(ctx, s.opts.OpenRetryDelay); err != nil {
			return nil, err
		}
	}
}

// program runs Program in its own goroutine while this one samples the
// queue, feeding the progress estimate and the stall watchdog. Both are
// stopped and the driver goroutine joined before program returns.
func (s *session) program(ctx context.Context, bootloader AVR109Session) error {
	programCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- bootloader.Program(programCtx, s.job.Image.Data)
	}()

	ticker := time.NewTicker(s.opts.ProgressInterval)
	defer ticker.Stop()
	estimator := &ProgressEstimator{}
	lastPending := -1
	lastChange := time.Now()
	for {
		select {
		case err := <-done:
			return err
		case now := <-ticker.C:
			pending := bootloader.Pending()
			if percent, ok := estimator.Sample(pending); ok {
				s.progress(percent)
			}
			if pending != lastPending {
				lastPending = pending
				lastChange = now
				continue
			}
			if now.Sub(lastChange) >= s.opts.StallTimeout {
				logrus.Debugf("Queue stuck at %d commands for %s", pending, s.opts.StallTimeout)
				cancel()
				<-done
				return errStalled
			}
		}
	}
}
