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

package board

import (
	"os"
	"strings"

	"github.com/arduino/arduino-cli/table"
	"github.com/arduino/avr-fwuploader/cli/common"
	"github.com/arduino/avr-fwuploader/cli/feedback"
	"github.com/arduino/avr-fwuploader/indexes/boardindex"
	"github.com/spf13/cobra"
)

// NewCommand created a new `board` command
func NewCommand() *cobra.Command {
	boardCmd := &cobra.Command{
		Use:     "board",
		Short:   "Commands about the supported boards.",
		Long:    "A subset of commands to inspect the board index.",
		Example: "  " + os.Args[0] + " board list",
	}
	boardCmd.AddCommand(newListCommand())
	return boardCmd
}

func newListCommand() *cobra.Command {
	var protocol *string

	listCmd := &cobra.Command{
		Use:     "list",
		Short:   "List supported boards",
		Long:    "Displays the supported boards, it is possible to filter results for a specific protocol.",
		Example: "  " + os.Args[0] + " board list --protocol avr109",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			feedback.PrintResult(list(common.InitIndex(), *protocol))
		},
	}
	protocol = listCmd.Flags().String("protocol", "", "Filter result for the specified protocol {stk500v1|stk500v2|avr109}")
	return listCmd
}

type BoardResult struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Protocol  string   `json:"protocol"`
	BaudRate  int      `json:"baud_rate"`
	Signature string   `json:"signature"`
	PageSize  int      `json:"page_size"`
	USBIDs    []string `json:"usb_ids,omitempty"`
}

type BoardListResult []*BoardResult

func list(index *boardindex.Index, protocol string) BoardListResult {
	res := BoardListResult{}
	for _, board := range index.List() {
		if protocol != "" && !strings.EqualFold(board.Protocol.String(), protocol) {
			continue
		}
		ids := []string{}
		for _, id := range board.USBIDs {
			ids = append(ids, id.VID+":"+id.PID)
		}
		res = append(res, &BoardResult{
			ID:        board.ID,
			Name:      board.Name,
			Protocol:  board.Protocol.String(),
			BaudRate:  board.BaudRate,
			Signature: board.Signature.String(),
			PageSize:  board.PageSize,
			USBIDs:    ids,
		})
	}
	return res
}

func (b BoardListResult) String() string {
	if len(b) == 0 {
		return "No boards available."
	}
	t := table.New()
	t.SetHeader("ID", "Name", "Protocol", "Baud", "USB IDs")
	for _, board := range b {
		usbIDs := strings.Join(board.USBIDs, " ")
		if usbIDs == "" {
			usbIDs = "-"
		}
		t.AddRow(board.ID, board.Name, board.Protocol, board.BaudRate, usbIDs)
	}
	return t.Render()
}

func (b BoardListResult) Data() interface{} {
	return b
}
