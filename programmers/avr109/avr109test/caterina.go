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

// Package avr109test provides an in-memory Caterina bootloader.
package avr109test

import (
	"bytes"
)

// Caterina emulates the bootloader side of an AVR109 link. It answers on
// Read the commands received on Write.
type Caterina struct {
	ID        string
	BlockSize int
	Flash     []byte
	// Corrupt flips a bit of every block read back.
	Corrupt bool
	// StallAt, if positive, silences the bootloader from the StallAt-th
	// command on: commands are accepted but never answered.
	StallAt int
	// OnCommand, if set, is called for every complete command received.
	OnCommand func()

	// Commands are the command bytes received so far.
	Commands []byte
	Left     bool
	Exited   bool

	address int
	in      []byte
	out     bytes.Buffer
}

// NewCaterina returns a 32KB Caterina with 128 bytes blocks.
func NewCaterina() *Caterina {
	return &Caterina{ID: "CATERIN", BlockSize: 128, Flash: make([]byte, 32*1024)}
}

func (c *Caterina) Read(p []byte) (int, error) {
	if c.out.Len() == 0 {
		return 0, nil
	}
	return c.out.Read(p)
}

func (c *Caterina) Write(p []byte) (int, error) {
	c.in = append(c.in, p...)
	for c.process() {
	}
	return len(p), nil
}

func (c *Caterina) process() bool {
	if len(c.in) == 0 {
		return false
	}
	size := 1
	switch c.in[0] {
	case 'A':
		size = 3
	case 'g':
		size = 4
	case 'B':
		if len(c.in) < 3 {
			return false
		}
		size = 4 + int(c.in[1])<<8 + int(c.in[2])
	}
	if len(c.in) < size {
		return false
	}
	cmd := c.in[:size]
	c.in = c.in[size:]
	c.Commands = append(c.Commands, cmd[0])
	if c.OnCommand != nil {
		c.OnCommand()
	}
	if c.StallAt > 0 && len(c.Commands) >= c.StallAt {
		return true
	}

	switch cmd[0] {
	case 'S':
		c.out.WriteString(c.ID)
	case 'V':
		c.out.WriteString("10")
	case 'a':
		c.out.WriteByte('Y')
	case 'b':
		c.out.Write([]byte{'Y', byte(c.BlockSize >> 8), byte(c.BlockSize)})
	case 'e':
		for i := range c.Flash {
			c.Flash[i] = 0xff
		}
		c.out.WriteByte('\r')
	case 'A':
		c.address = (int(cmd[1])<<8 | int(cmd[2])) * 2
		c.out.WriteByte('\r')
	case 'B':
		c.address += copy(c.Flash[c.address:], cmd[4:])
		c.out.WriteByte('\r')
	case 'g':
		n := int(cmd[1])<<8 | int(cmd[2])
		block := append([]byte{}, c.Flash[c.address:c.address+n]...)
		if c.Corrupt {
			block[n-1] ^= 0x01
		}
		c.address += n
		c.out.Write(block)
	case 'F', 'N', 'Q', 'r':
		c.out.WriteByte(0xff)
	case 'L':
		c.Left = true
		c.out.WriteByte('\r')
	case 'E':
		c.Exited = true
		c.out.WriteByte('\r')
	default:
		c.out.WriteByte('\r')
	}
	return true
}
