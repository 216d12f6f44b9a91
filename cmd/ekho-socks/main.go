// Command ekho-socks is a SOCKS5 front-end over an ekho session: it
// listens on a local TCP port, speaks SOCKS5 (via gosocks5) to
// whatever client connects, and relays the resulting byte stream
// through one ekho session per accepted connection, addressed to a
// fixed remote peer.
package main

import (
	"context"
	"encoding/binary"
	"net"
	"os"

	"github.com/ginuerzh/gosocks5"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/ekho-go/ekho"
	"github.com/ekho-go/ekho/carrier"
)

func main() {
	if err := run(); err != nil {
		defer os.Exit(1)
		var st errors.StackTrace
		type stackTracer interface {
			StackTrace() errors.StackTrace
		}
		if e, ok := err.(stackTracer); ok {
			st = e.StackTrace()
		}
		glog.Errorf("%s%+v\n", err, st)
	}
}

func run() error {
	var configFile, listen string
	pflag.StringVarP(&configFile, "config", "c", "./config.toml", "path of config file")
	pflag.StringVarP(&listen, "listen", "l", "127.0.0.1:1080", "local SOCKS5 listen address")
	pflag.Parse()

	conf, err := ekho.LoadConfig(configFile)
	if err != nil {
		return err
	}
	remote, ok := conf.RemoteIP()
	if !ok {
		return errors.New("config.toml: [remote] is required for ekho-socks")
	}

	car, err := ekho.NewCarrier(conf)
	if err != nil {
		return err
	}
	defer car.Close()

	incoming, err := ekho.Bootstrap(conf)
	if err != nil {
		return err
	}

	dispatcher := ekho.NewDispatcher(car, conf.KCP, incoming)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := dispatcher.Run(ctx); err != nil {
			glog.Errorf("ekho-socks: dispatcher stopped: %+v", err)
		}
	}()

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return errors.Wrap(err, "ekho-socks: listen")
	}
	glog.Infof("ekho-socks: SOCKS5 listening on %s, tunneling to %s", listen, remote)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return errors.Wrap(err, "ekho-socks: accept")
		}
		go handleConn(conn, car, remote, conf)
	}
}

func handleConn(conn net.Conn, car carrier.Carrier, remote net.IP, conf *ekho.Config) {
	defer conn.Close()

	// SOCKS5 method negotiation: read the client's greeting and pick
	// no-authentication before the request itself.
	if _, err := gosocks5.ReadMethods(conn); err != nil {
		glog.Warningf("ekho-socks: read SOCKS5 methods: %+v", err)
		return
	}
	if err := gosocks5.WriteMethod(gosocks5.MethodNoAuth, conn); err != nil {
		glog.Warningf("ekho-socks: write SOCKS5 method: %+v", err)
		return
	}

	req, err := gosocks5.ReadRequest(conn)
	if err != nil {
		glog.Warningf("ekho-socks: read SOCKS5 request: %+v", err)
		return
	}
	reply := gosocks5.NewReply(gosocks5.Succeeded, nil)
	if err := reply.Write(conn); err != nil {
		glog.Warningf("ekho-socks: reply SOCKS5: %+v", err)
		return
	}

	peer, ok := ekho.EndpointFromIP(remote)
	if !ok {
		glog.Warningf("ekho-socks: remote %s is not IPv4", remote)
		return
	}
	sess, err := ekho.Connect(car, peer, conf.KCP)
	if err != nil {
		glog.Warningf("ekho-socks: connect: %+v", err)
		return
	}
	defer sess.Close()

	// Tell the remote endpoint what this stream is for: a 2-byte
	// big-endian length, then that many bytes of "host:port", exactly
	// once at the start of the session.
	target := req.Addr.String()
	header := make([]byte, 2+len(target))
	binary.BigEndian.PutUint16(header, uint16(len(target)))
	copy(header[2:], target)
	if err := sess.Send(header); err != nil {
		glog.Warningf("ekho-socks: send target header: %+v", err)
		return
	}

	relay(conn, ekho.NewSessionConn(sess))
}

// relay pipes bytes both directions until either side is done.
func relay(a, b net.Conn) {
	done := make(chan struct{}, 2)
	go func() { pipe(a, b); done <- struct{}{} }()
	go func() { pipe(b, a); done <- struct{}{} }()
	<-done
}

func pipe(dst, src net.Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}
