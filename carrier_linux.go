//go:build linux

package ekho

import (
	"github.com/ekho-go/ekho/carrier"
)

// NewCarrier builds the real raw-ICMP-socket carrier from conf. Only
// available on Linux (no IPv6, no other platform's raw-socket API).
func NewCarrier(conf *Config) (carrier.Carrier, error) {
	if err := carrier.RequirePrivileges(); err != nil {
		return nil, err
	}
	return carrier.NewRawSocket(carrier.RawSocketConfig{
		Interface:      conf.ICMP.Interface,
		RecvBufferSize: conf.ICMP.RecvBufferSize,
		SendBufferSize: conf.ICMP.SendBufferSize,
	})
}
