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

package boardindex

import (
	_ "embed"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/arduino/avr-fwuploader/errcode"
	"github.com/arduino/go-paths-helper"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

//go:embed boards.yaml
var embeddedIndex []byte

// Protocol is the bootloader handshake spoken by a board.
type Protocol int

const (
	// STK500v1 is the optiboot protocol used by the Uno and its clones.
	STK500v1 Protocol = iota + 1
	// STK500v2 is used by the ATmega2560 based boards.
	STK500v2
	// AVR109 is the Caterina protocol of the native USB boards.
	AVR109
)

var protocolNames = map[string]Protocol{
	"stk500v1": STK500v1,
	"stk500v2": STK500v2,
	"avr109":   AVR109,
}

func (p Protocol) String() string {
	for name, proto := range protocolNames {
		if proto == p {
			return name
		}
	}
	return fmt.Sprintf("protocol(%d)", int(p))
}

// UnmarshalYAML implements yaml.Unmarshaler
func (p *Protocol) UnmarshalYAML(value *yaml.Node) error {
	proto, ok := protocolNames[strings.ToLower(value.Value)]
	if !ok {
		return fmt.Errorf("line %d: unknown protocol %q", value.Line, value.Value)
	}
	*p = proto
	return nil
}

// Signature is a byte string written in hex in the index.
type Signature []byte

// UnmarshalYAML implements yaml.Unmarshaler
func (s *Signature) UnmarshalYAML(value *yaml.Node) error {
	b, err := hex.DecodeString(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid signature %q: %s", value.Line, value.Value, err)
	}
	*s = b
	return nil
}

func (s Signature) String() string {
	return hex.EncodeToString(s)
}

// USBID is a vendor/product identifier pair. Both are "0x" prefixed hex
// strings, the vendor may be empty when only the product is known.
type USBID struct {
	VID string `yaml:"vid"`
	PID string `yaml:"pid"`
}

// ISPParams are the STK500v2 programming mode parameters.
type ISPParams struct {
	Timeout     byte `yaml:"timeout"`
	StabDelay   byte `yaml:"stab_delay"`
	CmdexeDelay byte `yaml:"cmdexe_delay"`
	SynchLoops  byte `yaml:"synch_loops"`
	ByteDelay   byte `yaml:"byte_delay"`
	PollValue   byte `yaml:"poll_value"`
	PollIndex   byte `yaml:"poll_index"`
}

// Board represents a single entry of the board index.
type Board struct {
	ID        string    `yaml:"id"`
	Name      string    `yaml:"name"`
	Protocol  Protocol  `yaml:"protocol"`
	BaudRate  int       `yaml:"baud"`
	Signature Signature `yaml:"signature"`
	PageSize  int       `yaml:"page_size"`
	NumPages  int       `yaml:"num_pages"`
	Timeout   int       `yaml:"timeout"`
	ISP       ISPParams `yaml:"isp"`
	USBIDs    []USBID   `yaml:"usb_ids"`
}

// Sniffable returns true if the board can be found by its USB identifiers.
func (b *Board) Sniffable() bool {
	return len(b.USBIDs) > 0
}

func (b *Board) validate() error {
	if b.ID == "" {
		return fmt.Errorf("board without id")
	}
	if b.Protocol == 0 {
		return fmt.Errorf("board %s: missing protocol", b.ID)
	}
	if b.BaudRate <= 0 {
		return fmt.Errorf("board %s: invalid baud rate %d", b.ID, b.BaudRate)
	}
	if b.PageSize <= 0 {
		return fmt.Errorf("board %s: invalid page size %d", b.ID, b.PageSize)
	}
	if len(b.Signature) == 0 {
		return fmt.Errorf("board %s: missing signature", b.ID)
	}
	return nil
}

// Index is the set of known boards, keyed by id.
type Index struct {
	boards map[string]*Board
}

// Load parses a YAML board index.
func Load(data []byte) (*Index, error) {
	var boards []*Board
	if err := yaml.Unmarshal(data, &boards); err != nil {
		return nil, err
	}
	index := &Index{boards: map[string]*Board{}}
	for _, board := range boards {
		if err := board.validate(); err != nil {
			return nil, err
		}
		index.boards[board.ID] = board
	}
	return index, nil
}

// LoadFile reads a board index from a YAML file.
func LoadFile(indexFile *paths.Path) (*Index, error) {
	buff, err := indexFile.ReadFile()
	if err != nil {
		return nil, err
	}
	index, err := Load(buff)
	if err != nil {
		return nil, fmt.Errorf("invalid board index %s: %w", indexFile, err)
	}
	logrus.WithField("index", indexFile).WithField("boards", len(index.boards)).Debug("Loaded board index")
	return index, nil
}

// Embedded returns the board index shipped with the binary.
func Embedded() *Index {
	index, err := Load(embeddedIndex)
	if err != nil {
		panic(fmt.Sprintf("embedded board index: %s", err))
	}
	return index
}

// Merge adds the boards of other to the index, replacing boards with the
// same id.
func (i *Index) Merge(other *Index) {
	for id, board := range other.boards {
		i.boards[id] = board
	}
}

// Resolve returns the board with the given id. An unknown id is a
// configuration error.
func (i *Index) Resolve(id string) (*Board, error) {
	board, ok := i.boards[id]
	if !ok {
		return nil, errcode.Configurationf("resolve board", "%q is not a supported board type", id)
	}
	return board, nil
}

// List returns all the boards sorted by id.
func (i *Index) List() []*Board {
	ids := maps.Keys(i.boards)
	slices.Sort(ids)
	res := make([]*Board, 0, len(ids))
	for _, id := range ids {
		res = append(res, i.boards[id])
	}
	return res
}
