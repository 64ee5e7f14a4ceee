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

// Package flasher drives a board from port discovery to a flashed image,
// running the upload state machine of the board protocol.
package flasher

import (
	"context"
	"fmt"
	"time"

	"github.com/arduino/avr-fwuploader/connection"
	"github.com/arduino/avr-fwuploader/errcode"
	"github.com/arduino/avr-fwuploader/hexfile"
	"github.com/arduino/avr-fwuploader/indexes/boardindex"
	"github.com/arduino/avr-fwuploader/ports"
	"github.com/arduino/avr-fwuploader/reset"
	"github.com/sirupsen/logrus"
)

// Options configures a Flasher. The zero values of the timings are not
// usable, start from DefaultOptions.
type Options struct {
	Index   *boardindex.Index
	Opener  connection.Opener
	Scanner *ports.Scanner
	Reset   reset.Config
	Drivers Drivers

	// SyncAttempts is the number of STK500v2 sign on attempts.
	SyncAttempts int
	// AVR109Attempts bounds the reset/program cycles of an AVR109 upload.
	AVR109Attempts int
	// OpenRetryDelay is the pause between two opens of a port not ready yet.
	OpenRetryDelay time.Duration
	// StallTimeout aborts an AVR109 attempt when the command queue stops
	// shrinking, it also bounds the open retries.
	StallTimeout time.Duration
	// ProgressInterval is the sampling period of the AVR109 queue.
	ProgressInterval time.Duration
	// SkipAVR109Verify skips the read back of AVR109 boards.
	SkipAVR109Verify bool
	// Debug enables the drivers command traces.
	Debug bool

	// OnState, if set, is called on every state transition.
	OnState func(State)
}

// DefaultOptions returns the options used with real boards.
func DefaultOptions() Options {
	resetConfig := reset.DefaultConfig()
	scanner := ports.NewScanner()
	scanner.Lister = resetConfig.Lister
	return Options{
		Index:            boardindex.Embedded(),
		Opener:           connection.SerialOpener,
		Scanner:          scanner,
		Reset:            resetConfig,
		Drivers:          DefaultDrivers(),
		SyncAttempts:     5,
		AVR109Attempts:   3,
		OpenRetryDelay:   time.Second,
		StallTimeout:     25 * time.Second,
		ProgressInterval: 50 * time.Millisecond,
		SkipAVR109Verify: skipAVR109VerifyDefault,
	}
}

// Job is a single upload request.
type Job struct {
	// Board is the board id, as listed in the board index.
	Board string
	// Port is the serial port, if empty the board is looked up by USB id.
	Port string
	// Image is the firmware to upload.
	Image *hexfile.Image
	// Progress, if set, receives the estimated upload percentage of AVR109
	// boards. Values never decrease and 100 is sent on success. The
	// STK500 protocols report no progress.
	Progress func(percent int)
}

// Result describes a completed upload.
type Result struct {
	Board    string `json:"board"`
	Protocol string `json:"protocol"`
	Port     string `json:"port"`
	Bytes    int    `json:"bytes"`
	Restarts int    `json:"restarts,omitempty"`
}

func (r *Result) String() string {
	return fmt.Sprintf("Flashed %d bytes to %s (%s) on %s", r.Bytes, r.Board, r.Protocol, r.Port)
}

// Data implements feedback.Result
func (r *Result) Data() interface{} {
	return r
}

// Flasher runs upload jobs. Jobs are independent, a Flasher may be reused
// but runs one job at a time.
type Flasher struct {
	opts Options
	seq  *reset.Sequencer
}

// New creates a Flasher.
func New(opts Options) *Flasher {
	if opts.Index == nil {
		opts.Index = boardindex.Embedded()
	}
	if opts.Scanner == nil {
		opts.Scanner = &ports.Scanner{Lister: opts.Reset.Lister, Normalizer: ports.DefaultNormalizer{}}
	}
	if opts.AVR109Attempts < 1 {
		opts.AVR109Attempts = 1
	}
	return &Flasher{opts: opts, seq: reset.NewSequencer(opts.Reset)}
}

// uploadFunc is the state machine of one protocol.
type uploadFunc func(ctx context.Context, s *session) error

var uploaders = map[boardindex.Protocol]uploadFunc{
	boardindex.STK500v1: uploadSTK500v1,
	boardindex.STK500v2: uploadSTK500v2,
	boardindex.AVR109:   uploadAVR109,
}

// Flash uploads job.Image to the board. The board is resolved and the port
// is found before any I/O on the device, errors are classified with the
// errcode kinds. The serial port is closed when Flash returns.
func (f *Flasher) Flash(ctx context.Context, job *Job) (*Result, error) {
	board, err := f.opts.Index.Resolve(job.Board)
	if err != nil {
		return nil, err
	}
	upload, ok := uploaders[board.Protocol]
	if !ok {
		return nil, errcode.Configurationf("resolve board", "board %s has unsupported protocol %s", board.ID, board.Protocol)
	}
	if job.Image == nil || job.Image.Len() == 0 {
		return nil, errcode.Configurationf("load firmware", "empty firmware image")
	}

	path := job.Port
	if path == "" {
		if path, err = f.sniff(board); err != nil {
			return nil, err
		}
	}
	logrus.Infof("Flashing %s (%s) on %s", board.ID, board.Protocol, path)

	s := &session{Flasher: f, job: job, board: board, port: path}
	defer s.release()
	err = upload(ctx, s)
	s.release()
	if err != nil {
		logrus.Error(err)
		return nil, err
	}
	return &Result{
		Board:    board.ID,
		Protocol: board.Protocol.String(),
		Port:     s.port,
		Bytes:    job.Image.Len(),
		Restarts: s.restarts,
	}, nil
}

// sniff finds the port of a board by its USB ids with a single scan.
func (f *Flasher) sniff(board *boardindex.Board) (string, error) {
	if !board.Sniffable() {
		return "", errcode.Configurationf("find port", "board %s can not be detected automatically, specify a port", board.ID)
	}
	port, err := f.opts.Scanner.FindByUSBID(board)
	if err != nil {
		logrus.Debugf("Listing ports: %s", err)
	}
	if port == nil {
		return "", errcode.DeviceNotFoundf("find port", "no %s found on the USB ports", board.ID)
	}
	logrus.Infof("Found %s on %s", board.ID, port.Path)
	return port.Path, nil
}

// session is the state of a running job. It owns the current connection
// slot: at most one connection exists at any time.
type session struct {
	*Flasher
	job      *Job
	board    *boardindex.Board
	port     string
	current  *connection.Connection
	restarts int
	reported int
}

// enter moves the state machine to state, unless ctx is done.
func (s *session) enter(ctx context.Context, state State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logrus.Debugf("%s: %s", s.board.ID, state)
	if s.opts.OnState != nil {
		s.opts.OnState(state)
	}
	return nil
}

// replace puts conn in the slot, closing the previous connection first.
func (s *session) replace(conn *connection.Connection) {
	s.release()
	s.current = conn
}

// release closes and empties the slot.
func (s *session) release() {
	if s.current != nil {
		s.current.Close()
		s.current = nil
	}
}

// connect opens a new connection in the slot.
func (s *session) connect(path string, baudRate int) (*connection.Connection, error) {
	conn := connection.New(path, baudRate, s.opts.Opener)
	s.replace(conn)
	if err := conn.Open(); err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *session) progress(percent int) {
	if s.job.Progress == nil || percent <= s.reported {
		return
	}
	s.reported = percent
	s.job.Progress(percent)
}

// fail classifies err with wrap, a cancelled context is returned as is.
func fail(ctx context.Context, op string, err error, wrap func(string, error) error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return wrap(op, err)
}
