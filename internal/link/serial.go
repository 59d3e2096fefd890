//go:build linux

package link

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// SerialLink opens a tty device and configures it via termios ioctls.
// Cross-pack enrichment: grounded on ehrlich-b-go-ublk's direct use of
// golang.org/x/sys for raw ioctl calls; no repo in the corpus wraps a serial
// library, so this stays on x/sys/unix rather than pulling in one.
type SerialLink struct {
	cfg  SerialConfig
	mu   sync.Mutex
	file *os.File
}

func NewSerialLink(cfg SerialConfig) *SerialLink {
	return &SerialLink{cfg: cfg}
}

func (l *SerialLink) Open() error {
	f, err := os.OpenFile(l.cfg.Port, os.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("serial link: open %s: %w", l.cfg.Port, err)
	}

	termios, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	if err != nil {
		f.Close()
		return fmt.Errorf("serial link: get termios: %w", err)
	}

	speed, err := baudToSpeed(l.cfg.BaudRate)
	if err != nil {
		f.Close()
		return err
	}

	termios.Cflag = unix.CREAD | unix.CLOCAL
	termios.Cflag |= speed
	switch l.cfg.DataBits {
	case 5:
		termios.Cflag |= unix.CS5
	case 6:
		termios.Cflag |= unix.CS6
	case 7:
		termios.Cflag |= unix.CS7
	default:
		termios.Cflag |= unix.CS8
	}
	if l.cfg.StopBits == 2 {
		termios.Cflag |= unix.CSTOPB
	}
	switch l.cfg.Parity {
	case "odd":
		termios.Cflag |= unix.PARENB | unix.PARODD
	case "even":
		termios.Cflag |= unix.PARENB
	}
	termios.Iflag = 0
	termios.Oflag = 0
	termios.Lflag = 0
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 1

	if err := unix.IoctlSetTermios(int(f.Fd()), unix.TCSETS, termios); err != nil {
		f.Close()
		return fmt.Errorf("serial link: set termios: %w", err)
	}

	l.mu.Lock()
	l.file = f
	l.mu.Unlock()

	if l.cfg.StartDelaySec > 0 {
		time.Sleep(time.Duration(l.cfg.StartDelaySec * float64(time.Second)))
	}
	return nil
}

func baudToSpeed(baud int) (uint32, error) {
	switch baud {
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	default:
		return 0, fmt.Errorf("serial link: unsupported baud rate %d", baud)
	}
}

func (l *SerialLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *SerialLink) ReadAvailable() ([]byte, error) {
	l.mu.Lock()
	f := l.file
	l.mu.Unlock()
	if f == nil {
		return nil, fmt.Errorf("serial link: not open")
	}
	buf := make([]byte, 4096)
	n, err := f.Read(buf)
	if err != nil {
		if err == os.ErrDeadlineExceeded {
			return nil, nil
		}
		if pe, ok := err.(*os.PathError); ok && pe.Err == unix.EAGAIN {
			return nil, nil
		}
		return nil, err
	}
	return buf[:n], nil
}

func (l *SerialLink) Write(data []byte) (int, error) {
	l.mu.Lock()
	f := l.file
	l.mu.Unlock()
	if f == nil {
		return 0, fmt.Errorf("serial link: not open")
	}
	return f.Write(data)
}

func (l *SerialLink) Operational() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}
