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

package errcode

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	require.Equal(t, Unknown, KindOf(nil))
	require.Equal(t, Unknown, KindOf(io.EOF))

	err := Configurationf("resolve", "board %q not supported", "foo")
	require.Equal(t, Configuration, KindOf(err))
	require.Equal(t, `resolve: board "foo" not supported`, err.Error())

	wrapped := fmt.Errorf("flash: %w", DeviceNotFoundf("sniff", "no board"))
	require.True(t, Is(wrapped, DeviceNotFound))
}

func TestWrapKeepsInnerKind(t *testing.T) {
	require.NoError(t, WrapTransport("open", nil))

	inner := WrapProtocol("sync", io.ErrUnexpectedEOF)
	outer := WrapTransport("upload", inner)
	require.Equal(t, Protocol, KindOf(outer))
	require.True(t, errors.Is(outer, io.ErrUnexpectedEOF))

	plain := WrapTransport("open", io.EOF)
	require.Equal(t, Transport, KindOf(plain))
	require.Equal(t, "open: EOF", plain.Error())
}
