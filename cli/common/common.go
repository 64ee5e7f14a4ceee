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

package common

import (
	"github.com/arduino/avr-fwuploader/cli/feedback"
	"github.com/arduino/avr-fwuploader/cli/globals"
	"github.com/arduino/avr-fwuploader/indexes/boardindex"
	"github.com/arduino/go-paths-helper"
	"github.com/sirupsen/logrus"
)

// InitIndex returns the embedded board index, extended with the file given
// through --board-index.
func InitIndex() *boardindex.Index {
	index, err := LoadIndex(globals.BoardIndexFile)
	if err != nil {
		feedback.Fatal(err.Error(), feedback.ErrBadArgument)
	}
	return index
}

// LoadIndex returns the embedded board index merged with indexFile, if not
// empty.
func LoadIndex(indexFile string) (*boardindex.Index, error) {
	index := boardindex.Embedded()
	if indexFile == "" {
		return index, nil
	}
	extra, err := boardindex.LoadFile(paths.New(indexFile))
	if err != nil {
		return nil, err
	}
	index.Merge(extra)
	logrus.Debugf("Merged board index %s", indexFile)
	return index, nil
}
