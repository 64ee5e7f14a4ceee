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

package firmware

import (
	"os"

	"github.com/spf13/cobra"
)

// NewCommand created a new `firmware` command
func NewCommand() *cobra.Command {
	firmwareCmd := &cobra.Command{
		Use:     "firmware",
		Short:   "Commands to operate on firmwares.",
		Long:    "A subset of commands to perform various firmware operations.",
		Example: "  " + os.Args[0] + " firmware ...",
	}

	firmwareCmd.AddCommand(NewFlashCommand())
	return firmwareCmd
}
