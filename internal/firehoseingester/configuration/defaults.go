package configuration

import (
	"net"
	"runtime"
)

// WorkerCount is the number of workers to start
func (c Configuration) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return max(2*runtime.NumCPU()-1, 1)
}

const (
	defaultNativePort       = "9000"
	defaultSecureNativePort = "9440"
)

// Address returns Addr with the default native protocol port appended if it has none
func (c ClickHouseConfig) Address() string {
	if _, _, err := net.SplitHostPort(c.Addr); err == nil || c.Addr == "" {
		return c.Addr
	}
	if c.Secure {
		return net.JoinHostPort(c.Addr, defaultSecureNativePort)
	}
	return net.JoinHostPort(c.Addr, defaultNativePort)
}
