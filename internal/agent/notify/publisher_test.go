package notify

import (
	"net"
	"testing"
)

func TestNewPublisher_Unreachable(t *testing.T) {
	// 找一个当前没人监听的端口
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	if _, err := NewPublisher("nats://"+addr, "netsparrow.detections"); err == nil {
		t.Fatal("expected connect error")
	}
}
