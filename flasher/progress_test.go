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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProgressEstimatorSequence(t *testing.T) {
	e := &ProgressEstimator{}
	var got []int
	for _, pending := range []int{10, 10, 10, 6, 6, 3, 0} {
		percent, ok := e.Sample(pending)
		require.True(t, ok)
		got = append(got, percent)
	}
	require.Equal(t, []int{0, 0, 0, 40, 40, 70, 100}, got)
	for i := 1; i < len(got); i++ {
		require.GreaterOrEqual(t, got[i], got[i-1])
	}
}

func TestProgressEstimatorNoEstimateOnEmptyQueue(t *testing.T) {
	e := &ProgressEstimator{}
	_, ok := e.Sample(0)
	require.False(t, ok)
	_, ok = e.Sample(-3)
	require.False(t, ok)

	percent, ok := e.Sample(3)
	require.True(t, ok)
	require.Equal(t, 0, percent)
}

func TestProgressEstimatorRoundsUpAndHolds(t *testing.T) {
	e := &ProgressEstimator{}
	e.Sample(3)
	percent, _ := e.Sample(2)
	require.Equal(t, 34, percent)

	// A refilled queue does not move the estimate backwards.
	e = &ProgressEstimator{}
	e.Sample(4)
	percent, _ = e.Sample(2)
	require.Equal(t, 50, percent)
	percent, _ = e.Sample(8)
	require.Equal(t, 50, percent)
	percent, _ = e.Sample(1)
	require.Equal(t, 88, percent)
}

func TestStateNames(t *testing.T) {
	require.Equal(t, "reset", StateReset.String())
	require.Equal(t, "fuse check", StateFuseCheck.String())
	require.Equal(t, "unknown", State(99).String())
}
