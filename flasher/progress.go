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

// ProgressEstimator turns samples of a shrinking command queue into a
// percentage. The result is an approximation: it assumes every queued
// command takes the same time and that the queue is filled once.
type ProgressEstimator struct {
	maxSeen int
	last    int
}

// Sample records the current queue length and returns the estimate. The
// boolean is false while no command has been queued yet. Estimates are
// clamped to [0, 100] and never decrease.
func (e *ProgressEstimator) Sample(pending int) (int, bool) {
	if pending < 0 {
		pending = 0
	}
	if pending > e.maxSeen {
		e.maxSeen = pending
	}
	if e.maxSeen == 0 {
		return 0, false
	}
	done := e.maxSeen - pending
	percent := (100*done + e.maxSeen - 1) / e.maxSeen
	percent = max(0, min(100, percent))
	if percent < e.last {
		percent = e.last
	}
	e.last = percent
	return percent, true
}
