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
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/arduino/avr-fwuploader/cli/arguments"
	"github.com/arduino/avr-fwuploader/cli/common"
	"github.com/arduino/avr-fwuploader/cli/feedback"
	"github.com/arduino/avr-fwuploader/cli/globals"
	"github.com/arduino/avr-fwuploader/errcode"
	"github.com/arduino/avr-fwuploader/flasher"
	"github.com/arduino/avr-fwuploader/hexfile"
	"github.com/arduino/avr-fwuploader/reset"
	"github.com/arduino/avr-fwuploader/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	commonFlags arguments.Flags // contains board and port
	retries     int
	fwFile      string
	checksum    string
	reacquire   string
)

// NewFlashCommand creates a new `flash` command
func NewFlashCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "flash",
		Short: "Flashes a firmware to an AVR board.",
		Long:  "Flashes the specified Intel HEX (or raw .bin) firmware to the board, through its serial bootloader. The port is detected from the board USB ids if omitted.",
		Example: "" +
			"  " + os.Args[0] + " firmware flash -i Blink.hex\n" +
			"  " + os.Args[0] + " firmware flash -b mega -a /dev/ttyACM0 -i Blink.hex\n" +
			"  " + os.Args[0] + " firmware flash -b leonardo -a COM10 -i https://example.com/Blink.hex --checksum SHA-256:<digest>\n",
		Args: cobra.NoArgs,
		Run:  runFlash,
	}
	commonFlags.AddToCommand(command)
	command.Flags().IntVar(&retries, "retries", 1, "Number of attempts in case of upload failure")
	command.Flags().StringVarP(&fwFile, "input-file", "i", "", "Path or http(s) URL of the firmware to upload")
	command.Flags().StringVar(&checksum, "checksum", "", "Expected checksum of the firmware file, e.g.: SHA-256:<hex digest>")
	command.Flags().StringVar(&reacquire, "reacquire", reset.DefaultStrategy.String(), "How to find a board again after a software reset, can be {diff|poll}")
	return command
}

func runFlash(cmd *cobra.Command, args []string) {
	if retries < 1 {
		feedback.Fatal("Number of retries should be at least 1", feedback.ErrBadArgument)
	}
	if fwFile == "" {
		feedback.Fatal("Error during firmware flashing: missing firmware file", feedback.ErrBadArgument)
	}
	strategy, err := reset.ParseStrategy(reacquire)
	if err != nil {
		feedback.Fatal(err.Error(), feedback.ErrBadArgument)
	}
	logrus.Debugf("board: %s, address: %s", commonFlags.Board, commonFlags.Port)

	opts := flasher.DefaultOptions()
	opts.Index = common.InitIndex()
	opts.Reset.Strategy = strategy
	opts.Debug = globals.Verbose && globals.LogLevel == "debug"
	if _, err := opts.Index.Resolve(commonFlags.Board); err != nil {
		feedback.Fatal(err.Error(), feedback.ErrBadArgument)
	}

	image, err := hexfile.Load(fwFile, checksum)
	if err != nil {
		feedback.Fatal(fmt.Sprintf("Error loading firmware: %s", err), feedback.ErrGeneric)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	f := flasher.New(opts)

	retry := 0
	for {
		retry++
		logrus.Infof("Uploading firmware (try %d of %d)", retry, retries)

		progress, done := newProgress()
		res, err := f.Flash(ctx, &flasher.Job{
			Board:    commonFlags.Board,
			Port:     commonFlags.Port,
			Image:    image,
			Progress: progress,
		})
		done()
		if err == nil {
			feedback.PrintResult(res)
			logrus.Info("Operation completed: success! :-)")
			return
		}
		logrus.Error(err)

		if retry == retries || errcode.Is(err, errcode.Configuration) || ctx.Err() != nil {
			logrus.Error("Operation failed. :-(")
			feedback.Fatal(fmt.Sprintf("Error during firmware flashing: %s", err), feedback.ExitCodeFor(err))
		}

		logrus.Info("Waiting 1 second before retrying...")
		if err := utils.Sleep(ctx, time.Second); err != nil {
			feedback.Fatal(err.Error(), feedback.ErrGeneric)
		}
	}
}

// newProgress returns the progress callback of a job and the function to
// call when the job is over. The bar is shown only with text output, from
// the first percentage reported by the job.
func newProgress() (func(int), func()) {
	if feedback.GetFormat() != feedback.Text {
		return nil, func() {}
	}
	var bar *progressbar.ProgressBar
	progress := func(percent int) {
		if bar == nil {
			bar = progressbar.NewOptions(100,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("Flashing"),
				progressbar.OptionSetWidth(40),
				progressbar.OptionClearOnFinish(),
			)
		}
		bar.Set(percent)
	}
	done := func() {
		if bar != nil {
			bar.Finish()
		}
	}
	return progress, done
}
