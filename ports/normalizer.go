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

package ports

import (
	"regexp"
	"strings"
)

// ProductIDNormalizer extracts the USB product id of a port in the
// normalized "0x" prefixed, lower case form. It returns the empty string
// when the product id is not known.
type ProductIDNormalizer interface {
	ProductID(p *Port) string
}

// DefaultNormalizer uses the PID reported by the enumerator and falls back to
// parsing Windows style hardware ids.
type DefaultNormalizer struct{}

var pnpProductID = regexp.MustCompile(`(?i)PID_([0-9a-f]+)`)

// ProductID implements ProductIDNormalizer
func (DefaultNormalizer) ProductID(p *Port) string {
	if p.PID != "" {
		return normalizeHexID(p.PID)
	}
	if m := pnpProductID.FindStringSubmatch(p.RawID); m != nil {
		return normalizeHexID(m[1])
	}
	return ""
}

func normalizeHexID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	id = strings.TrimPrefix(id, "0x")
	if id == "" {
		return ""
	}
	return "0x" + id
}
