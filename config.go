package ekho

import (
	"encoding/hex"
	"flag"
	"net"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/ekho-go/ekho/kcp"
)

// Config holds everything one ekho process needs at startup: the
// remote peer (for the initiating side), the symmetric key, and the
// ARQ/ICMP/logging/bounce tuning knobs, all loaded from a single TOML
// file via BurntSushi/toml.
type Config struct {
	// Key is the 64-character hex encoding of the 32-byte envelope
	// key. Both peers must be configured with the same key.
	Key string `toml:"key"`

	// Remote is the peer's IPv4 address. Empty means responder-only
	// (server) mode: this process never calls Connect itself, it only
	// answers inbound first-pushes.
	Remote string `toml:"remote"`

	// MetricsAddr, if set, is a "host:port" the process serves
	// Prometheus collectors on at /metrics. Empty disables the
	// metrics listener entirely.
	MetricsAddr string `toml:"metrics_addr"`

	KCP    kcp.Config     `toml:"kcp"`
	ICMP   ICMPConfig     `toml:"icmp"`
	Log    LogConfig      `toml:"log"`
	Bounce BounceConfig   `toml:"bounce"`
}

// ICMPConfig configures the raw carrier.
type ICMPConfig struct {
	Interface      string `toml:"interface"`
	RecvBufferSize int    `toml:"recv_buffer_size"`
	SendBufferSize int    `toml:"send_buffer_size"`
}

// LogConfig configures glog verbosity; LoadConfig applies Verbose to
// glog's -v level. Everything else about logging (destination,
// rotation) stays at glog's defaults.
type LogConfig struct {
	Verbose int `toml:"verbose"`
}

// BounceConfig configures the camouflage bounce throttle (component M).
type BounceConfig struct {
	RatePerWindow  int `toml:"rate_per_window"`
	WindowSeconds  int `toml:"window_seconds"`
}

// LoadConfig reads and parses a TOML config file.
func LoadConfig(path string) (*Config, error) {
	var conf Config
	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return nil, errors.Wrap(err, "ekho: decode config")
	}
	if conf.Bounce.RatePerWindow <= 0 {
		conf.Bounce.RatePerWindow = 20
	}
	if conf.Bounce.WindowSeconds <= 0 {
		conf.Bounce.WindowSeconds = 10
	}
	if conf.Log.Verbose > 0 {
		if err := flag.Set("v", strconv.Itoa(conf.Log.Verbose)); err != nil {
			return nil, errors.Wrap(err, "ekho: apply log.verbose")
		}
	}
	return &conf, nil
}

// KeyBytes decodes Key into the 32-byte form the envelope needs.
func (c *Config) KeyBytes() ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(c.Key)
	if err != nil {
		return key, errors.Wrap(err, "ekho: config.toml: key is not valid hex")
	}
	if len(raw) != 32 {
		return key, errors.Errorf("ekho: config.toml: key must be 32 bytes (64 hex chars), got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// RemoteIP parses Remote, if set.
func (c *Config) RemoteIP() (net.IP, bool) {
	if c.Remote == "" {
		return nil, false
	}
	ip := net.ParseIP(c.Remote).To4()
	return ip, ip != nil
}

// Bootstrap builds the process-wide envelope, registry, and bounce
// throttle from conf and wires them via InitGlobals. It returns the
// channel dispatchers publish newly-accepted inbound sessions to; the
// caller owns draining it (or may ignore it entirely in pure-client
// mode).
func Bootstrap(conf *Config) (chan *Session, error) {
	key, err := conf.KeyBytes()
	if err != nil {
		return nil, err
	}
	env, err := newEnvelope(key)
	if err != nil {
		return nil, err
	}
	reg := newRegistry()
	throttle := newBounceThrottle(
		conf.Bounce.RatePerWindow,
		time.Duration(conf.Bounce.WindowSeconds)*time.Second,
		2*time.Duration(conf.Bounce.WindowSeconds)*time.Second,
	)
	incoming := make(chan *Session, 32)
	InitGlobals(env, reg, incoming, throttle)
	return incoming, nil
}
