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

package common

import (
	"testing"

	"github.com/arduino/go-paths-helper"
	"github.com/stretchr/testify/require"
)

func TestLoadIndex(t *testing.T) {
	index, err := LoadIndex("")
	require.NoError(t, err)
	_, err = index.Resolve("leonardo")
	require.NoError(t, err)

	tmp, err := paths.MkTempDir("", "common")
	require.NoError(t, err)
	defer tmp.RemoveAll()
	extra := tmp.Join("extra.yaml")
	require.NoError(t, extra.WriteFile([]byte(`
- id: custom-328
  protocol: stk500v1
  baud: 57600
  signature: "1e950f"
  page_size: 128
`)))
	index, err = LoadIndex(extra.String())
	require.NoError(t, err)
	board, err := index.Resolve("custom-328")
	require.NoError(t, err)
	require.False(t, board.Sniffable())
	_, err = index.Resolve("uno")
	require.NoError(t, err)

	_, err = LoadIndex(tmp.Join("missing.yaml").String())
	require.Error(t, err)
}
