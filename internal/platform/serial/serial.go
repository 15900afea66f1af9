// Package serial opens and configures the radar's UART device on Linux,
// the same kind of raw OS boundary the teacher isolated behind
// internal/platform/windows for its service-install calls. Speed reads
// off a tty configured 8N1, raw mode, no flow control — the Go
// equivalent of the original pyserial.Serial(port, baud, timeout=2).
package serial

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Port is an opened, configured serial device. Reads block for up to
// ReadTimeout per Read call (VMIN=0, VTIME deciseconds), matching the
// bounded-blocking behavior radar.Ingestor's loop expects.
type Port struct {
	f           *os.File
	ReadTimeout time.Duration
}

var baudRates = map[int]uint32{
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

// Open opens path (e.g. "/dev/ttyAMA0") and configures it for 8N1 raw
// I/O at baud.
func Open(path string, baud int) (*Port, error) {
	rate, ok := baudRates[baud]
	if !ok {
		return nil, fmt.Errorf("serial: unsupported baud rate %d", baud)
	}

	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", path, err)
	}

	fd := int(f.Fd())
	termios, err := unix.IoctlGetTermios(fd, ioctlGets)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("serial: get termios: %w", err)
	}

	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS
	termios.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD
	termios.Lflag &^= unix.ICANON | unix.ECHO | unix.ECHOE | unix.ISIG
	termios.Iflag &^= unix.IXON | unix.IXOFF | unix.IXANY | unix.ICRNL
	termios.Oflag &^= unix.OPOST
	termios.Ispeed = rate
	termios.Ospeed = rate

	// VMIN=0, VTIME=20 (2.0s): a single Read returns whatever is available
	// after up to 2s of silence, mirroring pyserial's timeout=2 semantics.
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 20

	if err := unix.IoctlSetTermios(fd, ioctlSets, termios); err != nil {
		f.Close()
		return nil, fmt.Errorf("serial: set termios: %w", err)
	}

	return &Port{f: f, ReadTimeout: 2 * time.Second}, nil
}

func (p *Port) Read(b []byte) (int, error) {
	return p.f.Read(b)
}

func (p *Port) Write(b []byte) (int, error) {
	return p.f.Write(b)
}

func (p *Port) Close() error {
	return p.f.Close()
}
