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

// State is a step of an upload state machine.
type State int

const (
	StateConnect State = iota
	StateReset
	StateReacquire
	StateOpen
	StateBootload
	StateSync
	StateVerifySignature
	StateEnterProgrammingMode
	StateUpload
	StateExitProgrammingMode
	StateInit
	StateErase
	StateProgram
	StateVerify
	StateFuseCheck
)

var stateNames = []string{
	StateConnect:              "connect",
	StateReset:                "reset",
	StateReacquire:            "reacquire",
	StateOpen:                 "open",
	StateBootload:             "bootload",
	StateSync:                 "sync",
	StateVerifySignature:      "verify signature",
	StateEnterProgrammingMode: "enter programming mode",
	StateUpload:               "upload",
	StateExitProgrammingMode:  "exit programming mode",
	StateInit:                 "init",
	StateErase:                "erase",
	StateProgram:              "program",
	StateVerify:               "verify",
	StateFuseCheck:            "fuse check",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
