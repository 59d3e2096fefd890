//go:build !linux

package link

import "fmt"

// SerialLink on non-Linux platforms: termios ioctl access is Linux-specific,
// mirroring the teacher's own platform-gated USB implementation
// (usb_device.go's "!mips && !mipsle" build tag for the equivalent reason).
type SerialLink struct {
	cfg SerialConfig
}

func NewSerialLink(cfg SerialConfig) *SerialLink {
	return &SerialLink{cfg: cfg}
}

func (l *SerialLink) Open() error {
	return fmt.Errorf("serial link: unsupported on this platform")
}

func (l *SerialLink) Close() error                    { return nil }
func (l *SerialLink) ReadAvailable() ([]byte, error)   { return nil, fmt.Errorf("serial link: unsupported on this platform") }
func (l *SerialLink) Write(data []byte) (int, error)   { return 0, fmt.Errorf("serial link: unsupported on this platform") }
func (l *SerialLink) Operational() bool                { return false }
