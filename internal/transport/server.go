// Package transport implements the QUIC Server (spec §4.E): a single UDP
// endpoint that accepts connections, demultiplexes their streams to a
// bounded worker pool, and fans encoded media out as datagrams with
// forward-error-correction parity. It generalizes the teacher's
// internal/mq.Manager (one libp2p stream handler, per-peer inbox, ack
// channel bookkeeping) from a peer-messaging overlay to a client-server
// media transport built directly on github.com/quic-go/quic-go rather than
// riding beneath libp2p.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/magicmirror/mmcore/internal/applog"
	"github.com/magicmirror/mmcore/internal/config"
	"github.com/magicmirror/mmcore/internal/metrics"
)

var log = applog.Component("TRANSPORT")

// Server owns the single UDP endpoint (spec §4.E). Per-connection state
// (partial buffers, in-flight stream workers, the outgoing datagram queue)
// lives entirely inside serveConn's goroutine tree; Server itself only
// holds what is needed to accept new connections and bound the worker pool.
type Server struct {
	listenCfg config.Listen
	tcfg      config.Transport
	host      Host
	metrics   *metrics.Registry

	workers chan struct{}
}

// NewServer builds a Server. host supplies the session-lifecycle API the
// stream dispatcher calls into; reg may be nil to disable metrics.
func NewServer(listenCfg config.Listen, tcfg config.Transport, host Host, reg *metrics.Registry) *Server {
	workers := listenCfg.Workers
	if workers <= 0 {
		workers = 8
	}
	return &Server{
		listenCfg: listenCfg,
		tcfg:      tcfg,
		host:      host,
		metrics:   reg,
		workers:   make(chan struct{}, workers),
	}
}

// Run listens on listenCfg.Addr until ctx is cancelled (spec §5
// "server-stop": "closes every QUIC connection with reason code, awaits
// graceful drain, then exits").
func (s *Server) Run(ctx context.Context, tlsConf *tls.Config) error {
	tlsConf = tlsConf.Clone()
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{s.listenCfg.ALPN}
	}

	qcfg := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		EnableDatagrams: true,
	}
	ln, err := quic.ListenAddr(s.listenCfg.Addr, tlsConf, qcfg)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", s.listenCfg.Addr, err)
	}
	defer ln.Close()
	log.Printf("listening on %s alpn=%s", s.listenCfg.Addr, s.listenCfg.ALPN)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warnf("accept: %v", err)
			continue
		}
		go s.serveConn(ctx, conn)
	}
}

// serveConn is the per-connection accept loop (spec §4.E "Stream
// demultiplex"): on every new bidirectional stream it acquires a worker
// slot and dispatches a handler, bounding concurrent stream handlers across
// all connections to listenCfg.Workers.
func (s *Server) serveConn(ctx context.Context, conn quic.Connection) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.CloseWithError(0, "")

	remote := conn.RemoteAddr().String()
	log.Printf("connection from %s", remote)

	for {
		stream, err := conn.AcceptStream(connCtx)
		if err != nil {
			log.Printf("connection %s closed: %v", remote, err)
			return
		}

		select {
		case s.workers <- struct{}{}:
		case <-connCtx.Done():
			stream.CancelRead(0)
			stream.CancelWrite(0)
			return
		}

		go func() {
			defer func() { <-s.workers }()
			s.handleStream(connCtx, conn, stream)
		}()
	}
}
