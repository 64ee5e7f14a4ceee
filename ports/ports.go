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

// Package ports enumerates the serial ports attached to the machine and
// matches them against the USB identifiers of a board.
package ports

import (
	"fmt"
	"strings"

	"github.com/arduino/avr-fwuploader/indexes/boardindex"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial/enumerator"
)

// Port describes a serial port as seen during a single scan.
type Port struct {
	// Path is the platform specific device path, e.g. /dev/ttyACM0 or COM3.
	Path string
	// VID and PID are the USB identifiers, empty if not reported.
	VID string
	PID string
	// RawID is the raw OS hardware id (e.g. USB\VID_2341&PID_0043\...) when
	// the platform reports the identifiers only in that form.
	RawID string
}

func (p *Port) String() string {
	if p.VID == "" && p.PID == "" {
		return p.Path
	}
	return fmt.Sprintf("%s (%s:%s)", p.Path, p.VID, p.PID)
}

// Lister returns the ports currently attached.
type Lister interface {
	List() ([]*Port, error)
}

// ListerFunc adapts a function to the Lister interface.
type ListerFunc func() ([]*Port, error)

// List implements Lister
func (f ListerFunc) List() ([]*Port, error) {
	return f()
}

// EnumeratorLister lists the ports through the OS serial enumerator.
type EnumeratorLister struct{}

// List implements Lister
func (EnumeratorLister) List() ([]*Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	res := make([]*Port, 0, len(details))
	for _, d := range details {
		p := &Port{Path: d.Name}
		if d.IsUSB {
			p.VID = "0x" + strings.ToLower(d.VID)
			p.PID = "0x" + strings.ToLower(d.PID)
		}
		res = append(res, p)
	}
	return res, nil
}

// Scanner looks for boards among the attached ports.
type Scanner struct {
	Lister     Lister
	Normalizer ProductIDNormalizer
}

// NewScanner creates a Scanner over the OS enumerator.
func NewScanner() *Scanner {
	return &Scanner{
		Lister:     EnumeratorLister{},
		Normalizer: DefaultNormalizer{},
	}
}

// List returns the attached ports.
func (s *Scanner) List() ([]*Port, error) {
	return s.Lister.List()
}

// FindByUSBID returns the first port, in enumeration order, whose product
// id matches one of the board USB ids, or nil if none matches. Enumeration
// order is platform dependent: with two matching boards attached the one
// returned is not guaranteed to be stable across systems.
func (s *Scanner) FindByUSBID(board *boardindex.Board) (*Port, error) {
	list, err := s.Lister.List()
	if err != nil {
		return nil, err
	}
	normalizer := s.Normalizer
	if normalizer == nil {
		normalizer = DefaultNormalizer{}
	}
	for _, port := range list {
		pid := normalizer.ProductID(port)
		if pid == "" {
			continue
		}
		for _, id := range board.USBIDs {
			if pid != normalizeHexID(id.PID) {
				continue
			}
			if port.VID != "" && id.VID != "" && normalizeHexID(port.VID) != normalizeHexID(id.VID) {
				continue
			}
			logrus.Debugf("Port %s matches %s (pid %s)", port.Path, board.ID, pid)
			return port, nil
		}
	}
	return nil, nil
}

// DiffNew returns the path of the first port in after that is not in
// before, or the empty string. Paths are compared after NormalizePath.
func DiffNew(before, after []*Port) string {
	known := map[string]bool{}
	for _, p := range before {
		known[NormalizePath(p.Path)] = true
	}
	for _, p := range after {
		if !known[NormalizePath(p.Path)] {
			return p.Path
		}
	}
	return ""
}

// Contains returns true if a port with the same normalized path as path is
// in list.
func Contains(list []*Port, path string) bool {
	path = NormalizePath(path)
	for _, p := range list {
		if NormalizePath(p.Path) == path {
			return true
		}
	}
	return false
}

// NormalizePath folds device aliases onto a single name. On macOS every
// serial device is reachable both as /dev/cu.* and /dev/tty.*.
func NormalizePath(path string) string {
	if strings.HasPrefix(path, "/dev/cu.") {
		return "/dev/tty." + strings.TrimPrefix(path, "/dev/cu.")
	}
	return path
}
