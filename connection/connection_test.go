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

package connection_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arduino/avr-fwuploader/connection"
	"github.com/arduino/avr-fwuploader/connection/connectiontest"
	"github.com/stretchr/testify/require"
)

func TestOpenClose(t *testing.T) {
	fake := &connectiontest.Fake{}
	conn := connection.New("/dev/ttyACM0", 115200, fake.Opener())
	require.False(t, conn.IsOpen())

	require.NoError(t, conn.Open())
	require.True(t, conn.IsOpen())
	require.ErrorIs(t, conn.Open(), connection.ErrAlreadyOpen)
	require.Equal(t, 1, fake.OpenPorts())

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	require.False(t, conn.IsOpen())
	require.Equal(t, 0, fake.OpenPorts())
	require.Len(t, fake.Ops("open"), 1)
	require.Len(t, fake.Ops("close"), 1)
	require.Equal(t, 115200, fake.Ops("open")[0].Baud)
}

func TestOpenError(t *testing.T) {
	fake := &connectiontest.Fake{OpenHook: func(path string, baud int) error {
		return connection.ErrNotReady
	}}
	conn := connection.New("/dev/ttyACM0", 57600, fake.Opener())
	require.ErrorIs(t, conn.Open(), connection.ErrNotReady)
	require.False(t, conn.IsOpen())
}

func TestIOOnClosedConnection(t *testing.T) {
	conn := connection.New("COM3", 57600, (&connectiontest.Fake{}).Opener())
	_, err := conn.Write([]byte{0x30, 0x20})
	require.ErrorIs(t, err, connection.ErrClosed)
	_, err = conn.Read(make([]byte, 2))
	require.ErrorIs(t, err, connection.ErrClosed)
	require.ErrorIs(t, conn.SetControlLines(context.Background(), true, 0), connection.ErrClosed)
}

func TestSetControlLines(t *testing.T) {
	fake := &connectiontest.Fake{}
	conn := connection.New("COM3", 57600, fake.Opener())
	require.NoError(t, conn.Open())
	defer conn.Close()

	start := time.Now()
	require.NoError(t, conn.SetControlLines(context.Background(), true, 30*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	dtr := fake.Ops("dtr")
	rts := fake.Ops("rts")
	require.Len(t, dtr, 1)
	require.Len(t, rts, 1)
	require.True(t, dtr[0].Value)
	require.True(t, rts[0].Value)

	fake.LineHook = func(path, op string, value bool) error {
		if op == "rts" {
			return errors.New("ioctl failed")
		}
		return nil
	}
	require.ErrorContains(t, conn.SetControlLines(context.Background(), false, 0), "setting RTS to false")
}
