package link

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// TCPLink dials a TCP endpoint. Grounded on the teacher's cgminer_client.go
// dial-timeout idiom (net.DialTimeout over a fixed read buffer), generalised
// from a one-shot RPC client into a standing, non-framing byte link.
type TCPLink struct {
	cfg  TCPConfig
	mu   sync.Mutex
	conn net.Conn
}

func NewTCPLink(cfg TCPConfig) *TCPLink {
	return &TCPLink{cfg: cfg}
}

func (l *TCPLink) Open() error {
	addr := net.JoinHostPort(l.cfg.Host, fmt.Sprintf("%d", l.cfg.Port))
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("tcp link: dial %s: %w", addr, err)
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	return nil
}

func (l *TCPLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

func (l *TCPLink) ReadAvailable() ([]byte, error) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("tcp link: not open")
	}
	conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	return buf[:n], nil
}

func (l *TCPLink) Write(data []byte) (int, error) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("tcp link: not open")
	}
	return conn.Write(data)
}

func (l *TCPLink) Operational() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// UDPLink exchanges datagrams with a fixed remote endpoint. UDP has no
// connection state of its own; Operational() tracks whether Open() has
// succeeded and Close() has not yet been called.
type UDPLink struct {
	cfg  UDPConfig
	mu   sync.Mutex
	conn *net.UDPConn
}

func NewUDPLink(cfg UDPConfig) *UDPLink {
	return &UDPLink{cfg: cfg}
}

func (l *UDPLink) Open() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", l.cfg.Host, l.cfg.Port))
	if err != nil {
		return fmt.Errorf("udp link: resolve: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("udp link: dial: %w", err)
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	return nil
}

func (l *UDPLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

func (l *UDPLink) ReadAvailable() ([]byte, error) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("udp link: not open")
	}
	conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	return buf[:n], nil
}

func (l *UDPLink) Write(data []byte) (int, error) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("udp link: not open")
	}
	return conn.Write(data)
}

func (l *UDPLink) Operational() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}
