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

package port

import (
	"os"
	"strings"

	"github.com/arduino/arduino-cli/table"
	"github.com/arduino/avr-fwuploader/cli/common"
	"github.com/arduino/avr-fwuploader/cli/feedback"
	"github.com/arduino/avr-fwuploader/indexes/boardindex"
	"github.com/arduino/avr-fwuploader/ports"
	"github.com/spf13/cobra"
)

// NewCommand created a new `port` command
func NewCommand() *cobra.Command {
	portCmd := &cobra.Command{
		Use:     "port",
		Short:   "Commands about the serial ports.",
		Long:    "A subset of commands to inspect the attached serial ports.",
		Example: "  " + os.Args[0] + " port list",
	}
	portCmd.AddCommand(newListCommand())
	return portCmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List serial ports",
		Long:    "Displays the attached serial ports, with the boards matching their USB ids.",
		Example: "  " + os.Args[0] + " port list",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			res, err := list(ports.NewScanner(), common.InitIndex())
			if err != nil {
				feedback.Fatal(err.Error(), feedback.ErrGeneric)
			}
			feedback.PrintResult(res)
		},
	}
}

type PortResult struct {
	Path   string   `json:"path"`
	VID    string   `json:"vid,omitempty"`
	PID    string   `json:"pid,omitempty"`
	Boards []string `json:"boards,omitempty"`
}

type PortListResult []*PortResult

func list(scanner *ports.Scanner, index *boardindex.Index) (PortListResult, error) {
	attached, err := scanner.List()
	if err != nil {
		return nil, err
	}
	res := PortListResult{}
	for _, port := range attached {
		// one port at a time, to know which port each board matches
		single := &ports.Scanner{
			Lister:     ports.ListerFunc(func() ([]*ports.Port, error) { return []*ports.Port{port}, nil }),
			Normalizer: scanner.Normalizer,
		}
		boards := []string{}
		for _, board := range index.List() {
			if found, _ := single.FindByUSBID(board); found != nil {
				boards = append(boards, board.ID)
			}
		}
		res = append(res, &PortResult{Path: port.Path, VID: port.VID, PID: port.PID, Boards: boards})
	}
	return res, nil
}

func (p PortListResult) String() string {
	if len(p) == 0 {
		return "No serial ports found."
	}
	t := table.New()
	t.SetHeader("Port", "VID", "PID", "Boards")
	for _, port := range p {
		t.AddRow(port.Path, port.VID, port.PID, strings.Join(port.Boards, ", "))
	}
	return t.Render()
}

func (p PortListResult) Data() interface{} {
	return p
}
