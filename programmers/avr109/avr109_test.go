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

package avr109

import (
	"context"
	"testing"
	"time"

	"github.com/arduino/avr-fwuploader/programmers/avr109/avr109test"
	"github.com/arduino/avr-fwuploader/programmers/serialio"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{Signature: []byte("CATERIN"), Timeout: 50 * time.Millisecond}
}

func TestSessionFullUpload(t *testing.T) {
	ctx := context.Background()
	dev := avr109test.NewCaterina()
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i * 3)
	}

	s, err := Init(ctx, dev, testOptions())
	require.NoError(t, err)
	require.Equal(t, 128, s.BlockSize())
	require.Equal(t, "SVabP", string(dev.Commands))

	require.NoError(t, s.Erase(ctx))
	require.NoError(t, s.Program(ctx, data))
	require.Equal(t, data, dev.Flash[:300])
	require.Equal(t, byte(0xff), dev.Flash[300])
	require.NoError(t, s.Verify(ctx, data))
	require.NoError(t, s.FuseCheck(ctx))
	require.True(t, dev.Left)
	require.True(t, dev.Exited)
	require.Equal(t, 0, s.Pending())
}

func TestPendingShrinksWhileProgramming(t *testing.T) {
	ctx := context.Background()
	dev := avr109test.NewCaterina()
	s, err := Init(ctx, dev, testOptions())
	require.NoError(t, err)

	var seen []int
	dev.OnCommand = func() { seen = append(seen, s.Pending()) }
	require.NoError(t, s.Program(ctx, make([]byte, 3*128)))

	// Three blocks, two commands each.
	require.Equal(t, []int{6, 5, 4, 3, 2, 1}, seen)
	require.Equal(t, 0, s.Pending())
}

func TestInitSignatureMismatch(t *testing.T) {
	dev := avr109test.NewCaterina()
	dev.ID = "LUFACDC"
	_, err := Init(context.Background(), dev, testOptions())
	require.ErrorContains(t, err, "signature mismatch")

	dev = avr109test.NewCaterina()
	dev.ID = "LUFACDC"
	_, err = Init(context.Background(), dev, Options{})
	require.NoError(t, err)
}

func TestVerifyFailure(t *testing.T) {
	ctx := context.Background()
	dev := avr109test.NewCaterina()
	s, err := Init(ctx, dev, testOptions())
	require.NoError(t, err)
	require.NoError(t, s.Program(ctx, make([]byte, 200)))

	dev.Corrupt = true
	err = s.Verify(ctx, make([]byte, 200))
	require.ErrorContains(t, err, "verification failed for block at 0x0000")
}

func TestStalledBootloader(t *testing.T) {
	dev := avr109test.NewCaterina()
	s, err := Init(context.Background(), dev, testOptions())
	require.NoError(t, err)

	// Program outlives the reply timeout and waits for its context.
	dev.StallAt = len(dev.Commands) + 3
	wait := 4 * testOptions().Timeout
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	start := time.Now()
	err = s.Program(ctx, make([]byte, 4*128))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, time.Since(start), wait)
	require.Equal(t, 6, s.Pending())
}

func TestStalledHandshakeTimesOut(t *testing.T) {
	dev := avr109test.NewCaterina()
	s, err := Init(context.Background(), dev, testOptions())
	require.NoError(t, err)

	dev.StallAt = len(dev.Commands) + 1
	err = s.Erase(context.Background())
	require.ErrorIs(t, err, serialio.ErrTimeout)
}

func TestProgramCancelled(t *testing.T) {
	dev := avr109test.NewCaterina()
	s, err := Init(context.Background(), dev, testOptions())
	require.NoError(t, err)

	dev.StallAt = len(dev.Commands) + 1
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err = s.Program(ctx, make([]byte, 128))
	require.ErrorIs(t, err, context.Canceled)
}
