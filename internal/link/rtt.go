//go:build !mips && !mipsle

package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
)

// RTTLink talks to a target over a direct-USB JTAG/SWD debug probe channel
// (a J-Link-style RTT byte stream), modelled here as the generic
// open/read/write/close surface the rest of the core expects — no probe
// SDK is linked, only the USB bulk transport beneath it.
//
// Adapted from the teacher's usb_device.go (OpenUSBDevice, claim-interface,
// bulk endpoint read/write via google/gousb), repurposed from raw ASIC
// framing to an opaque byte channel.
type RTTLink struct {
	cfg     RTTConfig
	ctx     *gousb.Context
	dev     *gousb.Device
	intf    *gousb.Interface
	inEP    *gousb.InEndpoint
	outEP   *gousb.OutEndpoint
	mu      sync.Mutex
	done    func()
	opened  bool
}

func NewRTTLink(cfg RTTConfig) *RTTLink {
	return &RTTLink{cfg: cfg}
}

func (l *RTTLink) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(l.cfg.VendorID), gousb.ID(l.cfg.ProductID))
	if err != nil {
		ctx.Close()
		return fmt.Errorf("rtt link: open device %04x:%04x: %w", l.cfg.VendorID, l.cfg.ProductID, err)
	}
	if dev == nil {
		ctx.Close()
		return fmt.Errorf("rtt link: device %04x:%04x not found", l.cfg.VendorID, l.cfg.ProductID)
	}

	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		ctx.Close()
		return fmt.Errorf("rtt link: set auto detach: %w", err)
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return fmt.Errorf("rtt link: claim config: %w", err)
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return fmt.Errorf("rtt link: claim interface: %w", err)
	}
	inEP, err := intf.InEndpoint(1)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return fmt.Errorf("rtt link: in endpoint: %w", err)
	}
	outEP, err := intf.OutEndpoint(2)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return fmt.Errorf("rtt link: out endpoint: %w", err)
	}

	l.ctx = ctx
	l.dev = dev
	l.intf = intf
	l.inEP = inEP
	l.outEP = outEP
	l.opened = true
	return nil
}

func (l *RTTLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.opened {
		return nil
	}
	l.intf.Close()
	l.dev.Close()
	l.ctx.Close()
	l.opened = false
	return nil
}

func (l *RTTLink) ReadAvailable() ([]byte, error) {
	l.mu.Lock()
	ep := l.inEP
	opened := l.opened
	l.mu.Unlock()
	if !opened {
		return nil, fmt.Errorf("rtt link: not open")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	buf := make([]byte, 4096)
	n, err := ep.ReadContext(ctx, buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("rtt link: read: %w", err)
	}
	return buf[:n], nil
}

func (l *RTTLink) Write(data []byte) (int, error) {
	l.mu.Lock()
	ep := l.outEP
	opened := l.opened
	l.mu.Unlock()
	if !opened {
		return 0, fmt.Errorf("rtt link: not open")
	}
	return ep.Write(data)
}

func (l *RTTLink) Operational() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened
}
