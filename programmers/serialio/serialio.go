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

// Package serialio has the read and write loops shared by the programmers.
package serialio

import (
	"context"
	"io"
	"time"

	"github.com/arduino/avr-fwuploader/utils"
	"github.com/pkg/errors"
)

// DefaultTimeout is used when the board does not specify a reply timeout.
const DefaultTimeout = time.Second

// NoTimeout makes ReadFull wait until its context is done.
const NoTimeout time.Duration = -1

// idlePause is the wait between empty reads, a serial port with a read
// timeout returns zero bytes when nothing arrived.
const idlePause = 2 * time.Millisecond

// ErrTimeout is returned when the bootloader does not answer in time.
var ErrTimeout = errors.New("timeout waiting for bootloader reply")

// ReadFull fills buffer with data read from r. A read returning zero bytes
// is not an error until timeout elapses, a zero timeout means
// DefaultTimeout and NoTimeout waits as long as ctx allows.
func ReadFull(ctx context.Context, r io.Reader, buffer []byte, timeout time.Duration) error {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	read := 0
	for read < len(buffer) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buffer[read:])
		if err != nil {
			return errors.Wrap(err, "reading from serial port")
		}
		read += n
		if n > 0 {
			continue
		}
		if timeout != NoTimeout && time.Now().After(deadline) {
			return errors.Wrapf(ErrTimeout, "got %d of %d bytes", read, len(buffer))
		}
		if err := utils.Sleep(ctx, idlePause); err != nil {
			return err
		}
	}
	return nil
}

// WriteAll writes the whole buffer, retrying on short writes.
func WriteAll(w io.Writer, buffer []byte) error {
	for len(buffer) > 0 {
		sent, err := w.Write(buffer)
		if err != nil {
			return errors.Wrap(err, "writing to serial port")
		}
		if sent == 0 {
			return errors.New("serial port accepted no data")
		}
		buffer = buffer[sent:]
	}
	return nil
}

// Drain discards whatever is pending on r, up to the first empty read.
func Drain(r io.Reader) {
	buf := make([]byte, 64)
	for i := 0; i < 16; i++ {
		n, err := r.Read(buf)
		if err != nil || n == 0 {
			return
		}
	}
}
