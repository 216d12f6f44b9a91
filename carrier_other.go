//go:build !linux

package ekho

import (
	"github.com/pkg/errors"

	"github.com/ekho-go/ekho/carrier"
)

// NewCarrier is unavailable outside Linux: the real transport is a
// raw AF_INET/IPPROTO_ICMP socket, which only the Linux build tag
// implements (see carrier_linux.go). Non-Linux builds can still use
// carrier.Memory directly for tests.
func NewCarrier(conf *Config) (carrier.Carrier, error) {
	return nil, errors.New("ekho: the raw ICMP carrier is only implemented on linux")
}
