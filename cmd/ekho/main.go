// Command ekho is the tunnel daemon: it owns the raw ICMP carrier and
// the dispatcher, opens no outbound sessions of its own (remote is
// read only by ekho-socks), and answers every inbound session by
// reading its target-address header and relaying to that address over
// an ordinary TCP connection — the responder half of the ekho-socks /
// ekho pair.
package main

import (
	"context"
	"encoding/binary"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ekho-go/ekho"
)

func main() {
	if err := _main(); err != nil {
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

func _main() error {
	var configFile string
	pflag.StringVarP(&configFile, "config", "c", "./config.toml", "path of config file")
	pflag.Parse()

	conf, err := ekho.LoadConfig(configFile)
	if err != nil {
		return err
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dispatcher := ekho.NewDispatcher(car, conf.KCP, incoming)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { acceptLoop(gctx, incoming); return nil })
	if conf.MetricsAddr != "" {
		g.Go(func() error {
			if err := ekho.ServeMetrics(gctx, conf.MetricsAddr); err != nil && gctx.Err() == nil {
				glog.Warningf("ekho: metrics server stopped: %+v", err)
			}
			return nil
		})
	}

	err = g.Wait()
	ekho.CloseAllSessions()
	if err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "ekho: dispatcher stopped")
	}
	glog.Info("ekho: shutting down")
	return nil
}

// acceptLoop handles sessions the dispatcher accepted on behalf of a
// passive responder: each one starts with a small target-address
// header (mirroring ekho-socks's client-side header), then the rest of
// the stream is relayed to that address over ordinary TCP.
func acceptLoop(ctx context.Context, incoming <-chan *ekho.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case sess, ok := <-incoming:
			if !ok {
				return
			}
			go serveIncoming(ctx, sess)
		}
	}
}

func serveIncoming(ctx context.Context, sess *ekho.Session) {
	defer sess.Close()

	header, err := sess.Recv(ctx)
	if err != nil {
		glog.Warningf("ekho: session %s/%d: read target header: %+v", sess.Peer(), sess.Conv(), err)
		return
	}
	if len(header) < 2 {
		glog.Warningf("ekho: session %s/%d: short target header", sess.Peer(), sess.Conv())
		return
	}
	targetLen := int(binary.BigEndian.Uint16(header))
	if len(header) < 2+targetLen {
		glog.Warningf("ekho: session %s/%d: truncated target header", sess.Peer(), sess.Conv())
		return
	}
	target := string(header[2 : 2+targetLen])

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", target)
	if err != nil {
		glog.Warningf("ekho: session %s/%d: dial %s: %+v", sess.Peer(), sess.Conv(), target, err)
		return
	}
	defer conn.Close()

	relay(conn, ekho.NewSessionConn(sess))
}

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
