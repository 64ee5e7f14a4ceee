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

package hexfile

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/arduino/go-paths-helper"
	"github.com/sirupsen/logrus"
	"go.bug.st/downloader/v2"
)

// Download fetches the file at fileURL into dir and returns its path.
func Download(fileURL string, dir *paths.Path) (*paths.Path, error) {
	u, err := url.Parse(fileURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse URL %s: %s", fileURL, err)
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = "firmware.hex"
	}
	target := dir.Join(name)
	logrus.Infof("Downloading %s", fileURL)
	d, err := downloader.Download(target.String(), fileURL)
	if err != nil {
		logrus.Error(err)
		return nil, err
	}
	if err := run(d); err != nil {
		logrus.Error(err)
		return nil, err
	}
	return target, nil
}

// run completes the download. A nil downloader means the file is already
// there.
func run(d *downloader.Downloader) error {
	if d == nil {
		return nil
	}
	if err := d.Run(); err != nil {
		return fmt.Errorf("failed to download file from %s : %s", d.URL, err)
	}
	// The URL is not reachable for some reason
	if d.Resp.StatusCode >= 400 && d.Resp.StatusCode <= 599 {
		return fmt.Errorf("failed to download file from %s : %s", d.URL, d.Resp.Status)
	}
	return nil
}

// VerifyFileChecksum checks filePath against a checksum in the form
// ALGO:hexdigest, ALGO being one of SHA-256, SHA-1 or MD5.
func VerifyFileChecksum(checksum string, filePath *paths.Path) error {
	split := strings.SplitN(checksum, ":", 2)
	if len(split) != 2 {
		return fmt.Errorf("invalid checksum format: %s", checksum)
	}
	digest, err := hex.DecodeString(split[1])
	if err != nil {
		return fmt.Errorf("invalid hash '%s': %s", split[1], err)
	}

	var algo hash.Hash
	switch split[0] {
	case "SHA-256":
		algo = sha256.New()
	case "SHA-1":
		algo = sha1.New()
	case "MD5":
		algo = md5.New()
	default:
		return fmt.Errorf("unsupported hash algorithm: %s", split[0])
	}

	file, err := filePath.Open()
	if err != nil {
		return fmt.Errorf("opening file: %s", err)
	}
	defer file.Close()
	if _, err := io.Copy(algo, file); err != nil {
		return fmt.Errorf("computing hash: %s", err)
	}
	if !bytes.Equal(algo.Sum(nil), digest) {
		return fmt.Errorf("%s hash differs from expected checksum", filePath.Base())
	}
	return nil
}
