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

package serialio

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// trickle returns one byte per read and an empty read in between.
type trickle struct {
	data  []byte
	empty bool
}

func (t *trickle) Read(p []byte) (int, error) {
	t.empty = !t.empty
	if t.empty || len(t.data) == 0 {
		return 0, nil
	}
	p[0] = t.data[0]
	t.data = t.data[1:]
	return 1, nil
}

func TestReadFullAcrossEmptyReads(t *testing.T) {
	buf := make([]byte, 3)
	err := ReadFull(context.Background(), &trickle{data: []byte{1, 2, 3}}, buf, time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, buf)
}

func TestReadFullTimeout(t *testing.T) {
	buf := make([]byte, 3)
	start := time.Now()
	err := ReadFull(context.Background(), &trickle{data: []byte{1}}, buf, 30*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestReadFullCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ReadFull(ctx, &trickle{}, make([]byte, 1), time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReadFullNoTimeoutWaitsForContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*DefaultTimeout/2)
	defer cancel()
	start := time.Now()
	err := ReadFull(ctx, &trickle{}, make([]byte, 1), NoTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotErrorIs(t, err, ErrTimeout)
	require.GreaterOrEqual(t, time.Since(start), DefaultTimeout)
}

func TestReadFullError(t *testing.T) {
	err := ReadFull(context.Background(), bytes.NewReader(nil), make([]byte, 1), time.Second)
	require.ErrorIs(t, err, io.EOF)
}

type shortWriter struct {
	bytes.Buffer
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > 2 {
		p = p[:2]
	}
	return w.Buffer.Write(p)
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("unplugged")
}

func TestWriteAll(t *testing.T) {
	w := &shortWriter{}
	require.NoError(t, WriteAll(w, []byte{1, 2, 3, 4, 5}))
	require.Equal(t, []byte{1, 2, 3, 4, 5}, w.Bytes())

	require.ErrorContains(t, WriteAll(failingWriter{}, []byte{1}), "unplugged")
}
