package link

import "testing"

func TestOpenRejectsUnsupportedKind(t *testing.T) {
	_, err := Open(Config{Kind: KindNone})
	if err == nil {
		t.Fatalf("expected an error for KindNone")
	}
}

func TestOpenDispatchesTCP(t *testing.T) {
	_, err := Open(Config{Kind: KindTCP, TCP: TCPConfig{Host: "127.0.0.1", Port: 1}})
	if err == nil {
		t.Fatalf("expected a dial error against a closed port")
	}
}
