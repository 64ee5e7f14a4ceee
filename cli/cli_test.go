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

package cli

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestToLogLevel(t *testing.T) {
	lvl, found := toLogLevel("debug")
	require.True(t, found)
	require.Equal(t, logrus.DebugLevel, lvl)

	_, found = toLogLevel("verbose")
	require.False(t, found)
}

func TestCommandTree(t *testing.T) {
	root := NewCommand()
	for _, path := range [][]string{
		{"firmware", "flash"},
		{"board", "list"},
		{"port", "list"},
		{"version"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err)
		require.Equal(t, path[len(path)-1], cmd.Name())
	}

	flash, _, err := root.Find([]string{"firmware", "flash"})
	require.NoError(t, err)
	board := flash.Flags().Lookup("board")
	require.NotNil(t, board)
	require.Equal(t, "uno", board.DefValue)
	require.Equal(t, "b", board.Shorthand)
	require.Equal(t, "a", flash.Flags().Lookup("address").Shorthand)
	require.NotNil(t, flash.Flags().Lookup("reacquire"))
}
