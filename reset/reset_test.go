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

package reset

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arduino/avr-fwuploader/connection"
	"github.com/arduino/avr-fwuploader/connection/connectiontest"
	"github.com/arduino/avr-fwuploader/errcode"
	"github.com/arduino/avr-fwuploader/ports"
	"github.com/stretchr/testify/require"
)

// scheduled returns a lister answering with lists[i] on the i-th call and
// with the last list afterwards, counting the calls.
func scheduled(calls *int32, lists ...[]string) ports.Lister {
	return ports.ListerFunc(func() ([]*ports.Port, error) {
		n := int(atomic.AddInt32(calls, 1)) - 1
		if n >= len(lists) {
			n = len(lists) - 1
		}
		res := []*ports.Port{}
		for _, p := range lists[n] {
			res = append(res, &ports.Port{Path: p})
		}
		return res, nil
	})
}

func fastConfig(lister ports.Lister, strategy Strategy) Config {
	return Config{
		Lister:       lister,
		Strategy:     strategy,
		Retries:      3,
		RetryBackoff: time.Millisecond,
		SettleDelay:  time.Millisecond,
		FoundDelay:   time.Millisecond,
		PollInterval: time.Millisecond,
		PollAttempts: 4,
	}
}

func TestHardwareResetTimings(t *testing.T) {
	fake := &connectiontest.Fake{}
	conn := connection.New("/dev/ttyUSB0", 115200, fake.Opener())
	require.NoError(t, conn.Open())
	defer conn.Close()

	start := time.Now()
	require.NoError(t, Hardware(context.Background(), conn))
	end := time.Now()

	dtr := fake.Ops("dtr")
	require.Len(t, dtr, 2)
	require.True(t, dtr[0].Value)
	require.False(t, dtr[1].Value)
	rts := fake.Ops("rts")
	require.Len(t, rts, 2)
	require.True(t, rts[0].Value)
	require.False(t, rts[1].Value)

	// measured from the moment the lines settled in each state
	asserted := dtr[1].At.Sub(rts[0].At)
	deasserted := end.Sub(rts[1].At)
	require.GreaterOrEqual(t, asserted, AssertHold)
	require.Less(t, asserted, AssertHold+100*time.Millisecond)
	require.GreaterOrEqual(t, deasserted, DeassertHold)
	require.Less(t, deasserted, DeassertHold+100*time.Millisecond)
	require.GreaterOrEqual(t, end.Sub(start), AssertHold+DeassertHold)
}

func TestHardwareResetCancelled(t *testing.T) {
	fake := &connectiontest.Fake{}
	conn := connection.New("/dev/ttyUSB0", 115200, fake.Opener())
	require.NoError(t, conn.Open())
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Hardware(ctx, conn), context.Canceled)
	require.Len(t, fake.Ops("dtr"), 1)
}

func TestSoftwareReset(t *testing.T) {
	fake := &connectiontest.Fake{}
	s := NewSequencer(fastConfig(nil, Poll))
	conn := connection.New("/dev/ttyACM0", SentinelBaudRate, fake.Opener())

	require.NoError(t, s.Software(context.Background(), conn))
	require.False(t, conn.IsOpen())

	opens := fake.Ops("open")
	require.Len(t, opens, 1)
	require.Equal(t, SentinelBaudRate, opens[0].Baud)
	require.Len(t, fake.Ops("dtr"), 2)
	require.Len(t, fake.Ops("close"), 1)
}

func TestSoftwareResetWrongBaud(t *testing.T) {
	fake := &connectiontest.Fake{}
	s := NewSequencer(fastConfig(nil, Poll))
	err := s.Software(context.Background(), connection.New("/dev/ttyACM0", 57600, fake.Opener()))
	require.Equal(t, errcode.Configuration, errcode.KindOf(err))
	require.Empty(t, fake.Events())
}

func TestSoftwareResetRetries(t *testing.T) {
	failures := 2
	fake := &connectiontest.Fake{}
	fake.OpenHook = func(path string, baud int) error {
		if failures > 0 {
			failures--
			return errors.New("resource busy")
		}
		return nil
	}
	s := NewSequencer(fastConfig(nil, Poll))
	conn := connection.New("/dev/ttyACM0", SentinelBaudRate, fake.Opener())
	require.NoError(t, s.Software(context.Background(), conn))
	require.Len(t, fake.Ops("open"), 1)

	// every attempt fails
	fake.OpenHook = func(path string, baud int) error { return errors.New("resource busy") }
	err := s.Software(context.Background(), conn)
	require.Error(t, err)
	require.Equal(t, errcode.Transport, errcode.KindOf(err))
	require.ErrorContains(t, err, "resource busy")
}

func TestSoftwareResetLineFailureClosesPort(t *testing.T) {
	fake := &connectiontest.Fake{LineHook: func(path, op string, value bool) error {
		return errors.New("inappropriate ioctl")
	}}
	s := NewSequencer(fastConfig(nil, Poll))
	conn := connection.New("/dev/ttyACM0", SentinelBaudRate, fake.Opener())
	err := s.Software(context.Background(), conn)
	require.Equal(t, errcode.Transport, errcode.KindOf(err))
	require.Len(t, fake.Ops("open"), 3)
	require.Len(t, fake.Ops("close"), 3)
	require.Equal(t, 0, fake.OpenPorts())
}

func TestPollReturnsAsSoonAsPortIsBack(t *testing.T) {
	var calls int32
	lister := scheduled(&calls, []string{}, []string{"/dev/cu.usbmodem1411"})
	s := NewSequencer(fastConfig(lister, Poll))

	path, err := s.Reacquire(context.Background(), "/dev/tty.usbmodem1411", nil)
	require.NoError(t, err)
	require.Equal(t, "/dev/tty.usbmodem1411", path)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestPollGivesUpAfterFourAttempts(t *testing.T) {
	var calls int32
	lister := scheduled(&calls, []string{"/dev/ttyS0"})
	s := NewSequencer(fastConfig(lister, Poll))

	path, err := s.Reacquire(context.Background(), "/dev/ttyACM0", nil)
	require.Error(t, err)
	require.Equal(t, "", path)
	require.Equal(t, errcode.DeviceNotFound, errcode.KindOf(err))
	require.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestPollListErrorsCountAsNoPorts(t *testing.T) {
	var calls int32
	lister := ports.ListerFunc(func() ([]*ports.Port, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("enumerator failed")
		}
		return []*ports.Port{{Path: "/dev/ttyACM0"}}, nil
	})
	s := NewSequencer(fastConfig(lister, Poll))
	path, err := s.Reacquire(context.Background(), "/dev/ttyACM0", nil)
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyACM0", path)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDiffFindsNewPort(t *testing.T) {
	var calls int32
	lister := scheduled(&calls, []string{"COM1", "COM3", "COM5"})
	s := NewSequencer(fastConfig(lister, Diff))

	before := []*ports.Port{{Path: "COM1"}, {Path: "COM3"}}
	path, err := s.Reacquire(context.Background(), "COM3", before)
	require.NoError(t, err)
	require.Equal(t, "COM5", path)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDiffFallsBackToPolling(t *testing.T) {
	var calls int32
	lister := scheduled(&calls, []string{"COM1"}, []string{"COM1"}, []string{"COM1", "COM3"})
	s := NewSequencer(fastConfig(lister, Diff))

	before := []*ports.Port{{Path: "COM1"}, {Path: "COM3"}}
	path, err := s.Reacquire(context.Background(), "COM3", before)
	require.NoError(t, err)
	require.Equal(t, "COM3", path)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDiffWithoutSnapshotPolls(t *testing.T) {
	var calls int32
	lister := scheduled(&calls, []string{"/dev/ttyUSB0"}, []string{"/dev/ttyUSB0", "/dev/ttyACM0"})
	s := NewSequencer(fastConfig(lister, Diff))

	path, err := s.Reacquire(context.Background(), "/dev/ttyACM0", nil)
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyACM0", path)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))

	// An empty snapshot is a real one, every port is new.
	atomic.StoreInt32(&calls, 0)
	path, err = s.Reacquire(context.Background(), "/dev/ttyACM0", []*ports.Port{})
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyUSB0", path)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestReacquireCancelled(t *testing.T) {
	var calls int32
	lister := scheduled(&calls, []string{})
	cfg := fastConfig(lister, Poll)
	cfg.PollInterval = time.Hour
	s := NewSequencer(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.Reacquire(ctx, "/dev/ttyACM0", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("DIFF")
	require.NoError(t, err)
	require.Equal(t, Diff, s)
	s, err = ParseStrategy("poll")
	require.NoError(t, err)
	require.Equal(t, Poll, s)
	require.Equal(t, "poll", s.String())
	_, err = ParseStrategy("guess")
	require.Error(t, err)
}
