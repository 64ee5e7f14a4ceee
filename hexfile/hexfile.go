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

// Package hexfile loads the firmware images to upload.
package hexfile

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/arduino/go-paths-helper"
	"github.com/marcinbor85/gohex"
	"github.com/sirupsen/logrus"
)

// maxImageSize is the flash size of the largest supported chip (ATmega2560).
const maxImageSize = 256 * 1024

// Image is a firmware image laid out from address 0. Holes between the
// records of the source file are filled with 0xFF, the erased flash value.
type Image struct {
	Data []byte
}

// Len returns the size of the image in bytes.
func (i *Image) Len() int {
	return len(i.Data)
}

// Parse reads an Intel HEX file.
func Parse(r io.Reader) (*Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("parsing intel hex: %w", err)
	}
	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, fmt.Errorf("parsing intel hex: no data records")
	}
	end := 0
	for _, s := range segments {
		if e := int(s.Address) + len(s.Data); e > end {
			end = e
		}
	}
	if end > maxImageSize {
		return nil, fmt.Errorf("image ends at 0x%x, larger than %d bytes", end, maxImageSize)
	}
	data := bytes.Repeat([]byte{0xFF}, end)
	for _, s := range segments {
		copy(data[s.Address:], s.Data)
	}
	return &Image{Data: data}, nil
}

// FromBinary wraps a raw binary image.
func FromBinary(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty binary image")
	}
	if len(data) > maxImageSize {
		return nil, fmt.Errorf("binary image of %d bytes larger than %d bytes", len(data), maxImageSize)
	}
	return &Image{Data: data}, nil
}

// LoadFile reads an image from a .hex or .bin file.
func LoadFile(file *paths.Path) (*Image, error) {
	data, err := file.ReadFile()
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(file.Ext(), ".bin") {
		return FromBinary(data)
	}
	return Parse(bytes.NewReader(data))
}

// Load reads an image from a local path or from an http(s) URL. If checksum
// is not empty, in the form ALGO:hexdigest, the file is verified first.
func Load(source string, checksum string) (*Image, error) {
	file := paths.New(source)
	if isRemote(source) {
		tmp, err := paths.MkTempDir("", "avr-fwuploader")
		if err != nil {
			return nil, fmt.Errorf("creating temp dir for download: %w", err)
		}
		defer tmp.RemoveAll()
		if file, err = Download(source, tmp); err != nil {
			return nil, err
		}
	} else if !file.Exist() {
		return nil, fmt.Errorf("firmware file not found in %s", file)
	}
	if checksum != "" {
		if err := VerifyFileChecksum(checksum, file); err != nil {
			return nil, err
		}
	}
	img, err := LoadFile(file)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", source, err)
	}
	logrus.Debugf("Loaded %d bytes from %s", img.Len(), source)
	return img, nil
}

func isRemote(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
