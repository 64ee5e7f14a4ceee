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

// Package reset puts boards into bootloader mode and finds them again when
// the reset makes the OS re-enumerate the device.
package reset

import (
	"context"
	"fmt"
	"time"

	"github.com/arduino/avr-fwuploader/connection"
	"github.com/arduino/avr-fwuploader/errcode"
	"github.com/arduino/avr-fwuploader/ports"
	"github.com/arduino/avr-fwuploader/utils"
	"github.com/sirupsen/logrus"
)

const (
	// AssertHold is how long DTR/RTS are held asserted during a pulse.
	AssertHold = 250 * time.Millisecond
	// DeassertHold is how long DTR/RTS are held deasserted after a pulse.
	DeassertHold = 50 * time.Millisecond
	// SentinelBaudRate is recognized by the native USB bootloaders as a
	// request to restart in bootloader mode.
	SentinelBaudRate = 1200
)

// Hardware pulses DTR/RTS on an open connection: assert for AssertHold, then
// deassert for DeassertHold. Boards wired for auto reset restart into the
// bootloader, which waits only a second or two for a handshake, so the
// caller must start talking right after Hardware returns.
func Hardware(ctx context.Context, conn *connection.Connection) error {
	logrus.Debugf("Cycling DTR/RTS on %s", conn.Path)
	if err := conn.SetControlLines(ctx, true, AssertHold); err != nil {
		return err
	}
	return conn.SetControlLines(ctx, false, DeassertHold)
}

// Config holds the timings of the software reset and of the port
// reacquisition.
type Config struct {
	// Lister is used to snapshot the attached ports.
	Lister ports.Lister
	// Strategy selects how the re-enumerated port is found.
	Strategy Strategy

	// Retries is the number of software reset attempts.
	Retries int
	// RetryBackoff is the pause between two software reset attempts.
	RetryBackoff time.Duration

	// SettleDelay is waited after the reset before diffing the port list.
	SettleDelay time.Duration
	// FoundDelay is waited after the port is found, before handing it out.
	FoundDelay time.Duration
	// PollInterval is the pause before each poll of the port list.
	PollInterval time.Duration
	// PollAttempts is the number of polls before giving up.
	PollAttempts int
}

// DefaultConfig returns the timings used with real boards.
func DefaultConfig() Config {
	return Config{
		Lister:       ports.EnumeratorLister{},
		Strategy:     DefaultStrategy,
		Retries:      3,
		RetryBackoff: 2 * time.Second,
		SettleDelay:  4 * time.Second,
		FoundDelay:   500 * time.Millisecond,
		PollInterval: time.Second,
		PollAttempts: 4,
	}
}

// Sequencer runs software resets and reacquires the port afterwards.
type Sequencer struct {
	cfg Config
}

// NewSequencer creates a Sequencer.
func NewSequencer(cfg Config) *Sequencer {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.PollAttempts < 1 {
		cfg.PollAttempts = 1
	}
	return &Sequencer{cfg: cfg}
}

// Software resets the board with a 1200 bps touch: conn, which must be
// closed and configured at SentinelBaudRate, is opened, the control lines
// are pulsed and conn is closed again. The whole sequence is retried on
// failure since USB re-enumeration timing is racy.
func (s *Sequencer) Software(ctx context.Context, conn *connection.Connection) error {
	if conn.BaudRate != SentinelBaudRate {
		return errcode.Configurationf("software reset", "port %s must be opened at %d bps, not %d", conn.Path, SentinelBaudRate, conn.BaudRate)
	}
	logrus.Infof("Resetting board on %s", conn.Path)
	var lastErr error
	for attempt := 1; attempt <= s.cfg.Retries; attempt++ {
		lastErr = touch(ctx, conn)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logrus.Warnf("Error resetting board (try %d of %d): %s", attempt, s.cfg.Retries, lastErr)
		if attempt < s.cfg.Retries {
			if err := utils.Sleep(ctx, s.cfg.RetryBackoff); err != nil {
				return err
			}
		}
	}
	return errcode.WrapTransport("software reset", lastErr)
}

func touch(ctx context.Context, conn *connection.Connection) error {
	if err := conn.Open(); err != nil {
		return fmt.Errorf("opening port at %d bps: %w", SentinelBaudRate, err)
	}
	defer conn.Close()
	return Hardware(ctx, conn)
}

// Reacquire returns the path the board is reachable at after a software
// reset. before is the port list taken before the reset, a nil list means
// no snapshot is available and the original path is polled whatever the
// strategy.
func (s *Sequencer) Reacquire(ctx context.Context, originalPath string, before []*ports.Port) (string, error) {
	switch {
	case s.cfg.Strategy == Diff && before == nil:
		logrus.Debugf("No port snapshot, polling for %s", originalPath)
	case s.cfg.Strategy == Diff:
		logrus.Debugf("Waiting %s for the port list to settle", s.cfg.SettleDelay)
		if err := utils.Sleep(ctx, s.cfg.SettleDelay); err != nil {
			return "", err
		}
		after := s.list()
		if newPort := ports.DiffNew(before, after); newPort != "" {
			logrus.Infof("Found bootloader port: %s", newPort)
			if err := utils.Sleep(ctx, s.cfg.FoundDelay); err != nil {
				return "", err
			}
			return newPort, nil
		}
		logrus.Debugf("No new port appeared, polling for %s", originalPath)
	}
	return s.poll(ctx, originalPath)
}

func (s *Sequencer) poll(ctx context.Context, path string) (string, error) {
	for attempt := 1; attempt <= s.cfg.PollAttempts; attempt++ {
		if err := utils.Sleep(ctx, s.cfg.PollInterval); err != nil {
			return "", err
		}
		if ports.Contains(s.list(), path) {
			logrus.Debugf("Port %s is back (poll %d of %d)", path, attempt, s.cfg.PollAttempts)
			if err := utils.Sleep(ctx, s.cfg.FoundDelay); err != nil {
				return "", err
			}
			return path, nil
		}
	}
	return "", errcode.DeviceNotFoundf("reacquire port", "%s did not reappear after %d attempts", path, s.cfg.PollAttempts)
}

// list returns the attached ports, a listing error counts as no ports.
func (s *Sequencer) list() []*ports.Port {
	list, err := s.cfg.Lister.List()
	if err != nil {
		logrus.Debugf("Listing ports: %s", err)
		return nil
	}
	return list
}
