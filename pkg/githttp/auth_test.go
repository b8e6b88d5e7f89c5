package githttp

import (
	"testing"
)

func TestIsPrivateAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{addr: "127.0.0.1:54321", want: true},
		{addr: "10.1.2.3:80", want: true},
		{addr: "172.16.0.9:443", want: true},
		{addr: "172.32.0.1:443", want: false},
		{addr: "192.168.10.10:9418", want: true},
		{addr: "8.8.8.8:80", want: false},
		{addr: "203.0.113.7:1234", want: false},
		{addr: "not-an-ip", want: false},
	}
	for _, tt := range tests {
		if got := isPrivateAddr(tt.addr); got != tt.want {
			t.Errorf("isPrivateAddr(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
