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
	"fmt"
	"strings"
)

// Strategy selects how Reacquire looks for a re-enumerated board.
type Strategy int

const (
	// Poll waits for the original path to come back. Works where the device
	// keeps its path across re-enumeration, or shows up under an alias of it.
	Poll Strategy = iota
	// Diff compares the port list before and after the reset and picks the
	// new entry, falling back to Poll if nothing new shows up. Needed where
	// the OS assigns a new name to the bootloader device (Windows COM ports).
	Diff
)

func (s Strategy) String() string {
	switch s {
	case Poll:
		return "poll"
	case Diff:
		return "diff"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy parses the name of a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(name) {
	case "poll":
		return Poll, nil
	case "diff":
		return Diff, nil
	}
	return 0, fmt.Errorf("invalid reacquire strategy %q, can be {poll|diff}", name)
}
