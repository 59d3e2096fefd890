//go:build mips || mipsle

package link

import "fmt"

// RTTLink stub for platforms where google/gousb's cgo-backed libusb binding
// is unavailable, mirroring the teacher's own "!mips && !mipsle" USB gate.
type RTTLink struct {
	cfg RTTConfig
}

func NewRTTLink(cfg RTTConfig) *RTTLink {
	return &RTTLink{cfg: cfg}
}

func (l *RTTLink) Open() error                        { return fmt.Errorf("rtt link: unsupported on this platform") }
func (l *RTTLink) Close() error                       { return nil }
func (l *RTTLink) ReadAvailable() ([]byte, error)     { return nil, fmt.Errorf("rtt link: unsupported on this platform") }
func (l *RTTLink) Write(data []byte) (int, error)     { return 0, fmt.Errorf("rtt link: unsupported on this platform") }
func (l *RTTLink) Operational() bool                  { return false }
