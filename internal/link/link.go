// Package link implements the transport link abstraction (component C2):
// a thin, non-framing open/read/write surface over one of four concrete
// byte transports. The comm handler is responsible for all message framing;
// a Link only ever moves bytes.
package link

import "fmt"

// Link is the interface the comm handler (internal/comm) consumes.
// Implementations never buffer or interpret frames.
type Link interface {
	Open() error
	Close() error
	// ReadAvailable returns whatever bytes are currently available without
	// blocking past a short internal poll; an empty, nil-error result means
	// "nothing to read right now", not EOF.
	ReadAvailable() ([]byte, error)
	Write(data []byte) (int, error)
	Operational() bool
}

// Kind selects one of the four link variants accepted by the core (§6).
type Kind uint8

const (
	KindNone Kind = iota
	KindSerial
	KindUDP
	KindTCP
	KindRTT
)

// JLinkInterface enumerates the RTT transport's physical interface.
type JLinkInterface string

const (
	InterfaceSWD  JLinkInterface = "SWD"
	InterfaceJTAG JLinkInterface = "JTAG"
	InterfaceICSP JLinkInterface = "ICSP"
	InterfaceFINE JLinkInterface = "FINE"
	InterfaceSPI  JLinkInterface = "SPI"
	InterfaceC2   JLinkInterface = "C2"
)

// SerialConfig configures a SerialLink.
type SerialConfig struct {
	Port          string  `mapstructure:"port"`
	BaudRate      int     `mapstructure:"baud_rate"`
	StopBits      int     `mapstructure:"stop_bits"`
	DataBits      int     `mapstructure:"data_bits"`
	Parity        string  `mapstructure:"parity"` // "none", "odd", "even"
	StartDelaySec float64 `mapstructure:"start_delay_sec"`
}

// UDPConfig configures a UDPLink.
type UDPConfig struct {
	Host string
	Port int
}

// TCPConfig configures a TCPLink.
type TCPConfig struct {
	Host string
	Port int
}

// RTTConfig configures an RTTLink.
type RTTConfig struct {
	TargetDevice   string         `mapstructure:"target_device"`
	JLinkInterface JLinkInterface `mapstructure:"jlink_interface"`
	VendorID       uint16         `mapstructure:"vendor_id"`
	ProductID      uint16         `mapstructure:"product_id"`
}

// Config is the tagged link configuration accepted by the daemon (§6
// "Device-link configuration").
type Config struct {
	Kind   Kind
	Serial SerialConfig
	UDP    UDPConfig
	TCP    TCPConfig
	RTT    RTTConfig
}

// Open constructs and opens the configured Link variant.
func Open(cfg Config) (Link, error) {
	var l Link
	switch cfg.Kind {
	case KindSerial:
		l = NewSerialLink(cfg.Serial)
	case KindUDP:
		l = NewUDPLink(cfg.UDP)
	case KindTCP:
		l = NewTCPLink(cfg.TCP)
	case KindRTT:
		l = NewRTTLink(cfg.RTT)
	default:
		return nil, fmt.Errorf("link: unsupported kind %d", cfg.Kind)
	}
	if err := l.Open(); err != nil {
		return nil, err
	}
	return l, nil
}
