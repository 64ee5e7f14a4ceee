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

package feedback

import (
	"errors"
	"fmt"
	"testing"

	"github.com/arduino/avr-fwuploader/errcode"
	"github.com/stretchr/testify/require"
)

func TestExitCodeFor(t *testing.T) {
	require.Equal(t, ErrBadArgument, ExitCodeFor(errcode.Configurationf("resolve board", "unknown")))
	require.Equal(t, ErrDeviceNotFound, ExitCodeFor(errcode.DeviceNotFoundf("find port", "none")))
	require.Equal(t, ErrTransport, ExitCodeFor(fmt.Errorf("try 1: %w", errcode.WrapTransport("open port", errors.New("busy")))))
	require.Equal(t, ErrProtocol, ExitCodeFor(errcode.WrapProtocol("sync", errors.New("no answer"))))
	require.Equal(t, ErrGeneric, ExitCodeFor(errors.New("boom")))
	require.Equal(t, ExitCode(10), ErrProtocol)
}

func TestParseOutputFormat(t *testing.T) {
	f, ok := ParseOutputFormat("json")
	require.True(t, ok)
	require.Equal(t, JSON, f)
	require.Equal(t, "json", f.String())

	_, ok = ParseOutputFormat("yaml")
	require.False(t, ok)
}
