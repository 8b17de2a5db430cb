// Package ipquic serves the IP-framed protocol over QUIC: one
// bidirectional stream per session, each frame length-prefixed and
// containing exactly one ipframed.Packet.
package ipquic

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/halyardsys/protogate/internal/codec/ipframed"
	"github.com/halyardsys/protogate/internal/logging"
)

const maxFrameSize = 1 << 20

// Config tunes the QUIC listener.
type Config struct {
	BindAddress      string
	TLSConfig        *tls.Config
	IdleTimeout      time.Duration
	HandshakeTimeout time.Duration
	// MaxIncomingStreams bounds concurrent streams per connection; 0
	// falls back to a conservative default.
	MaxIncomingStreams int64
}

// Server accepts QUIC connections and hands each session's decoded
// packets to a Handler, writing back whatever Handler returns.
type Server struct {
	cfg      Config
	listener *quic.Listener
	log      *logging.Logger
}

// Handler processes one inbound packet for a session and returns the
// packet to write back, or nil to send nothing.
type Handler func(ctx context.Context, sessionHandle uint32, pkt *ipframed.Packet) (*ipframed.Packet, error)

// Listen opens the QUIC listener. Call Serve to begin accepting sessions.
func Listen(cfg Config, log *logging.Logger) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", cfg.BindAddress)
	if err != nil {
		return nil, fmt.Errorf("ipquic: resolving bind address: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("ipquic: listening: %w", err)
	}

	maxStreams := cfg.MaxIncomingStreams
	if maxStreams == 0 {
		maxStreams = 64
	}
	quicCfg := &quic.Config{
		MaxIncomingStreams:   maxStreams,
		MaxIdleTimeout:       cfg.IdleTimeout,
		HandshakeIdleTimeout: cfg.HandshakeTimeout,
	}
	listener, err := quic.Listen(udpConn, cfg.TLSConfig, quicCfg)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("ipquic: creating listener: %w", err)
	}

	return &Server{cfg: cfg, listener: listener, log: log}, nil
}

// Serve accepts connections until ctx is done, dispatching every decoded
// packet on every stream to handler.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error("ipquic: accept failed", logging.Fields{"error": err.Error()})
			continue
		}
		go s.serveConn(ctx, conn, handler)
	}
}

func (s *Server) serveConn(ctx context.Context, conn quic.Connection, handler Handler) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go s.serveStream(ctx, stream, handler)
	}
}

func (s *Server) serveStream(ctx context.Context, stream quic.Stream, handler Handler) {
	defer stream.Close()
	for {
		frame, err := readFrame(stream)
		if err != nil {
			if err != io.EOF {
				s.log.Warn("ipquic: frame read failed", logging.Fields{"error": err.Error()})
			}
			return
		}

		pkt, err := ipframed.Parse(frame)
		if err != nil {
			s.log.Warn("ipquic: packet parse failed", logging.Fields{"error": err.Error()})
			continue
		}

		reply, err := handler(ctx, pkt.SessionHandle, pkt)
		if err != nil {
			s.log.Error("ipquic: handler failed", logging.Fields{"error": err.Error()})
			continue
		}
		if reply == nil {
			continue
		}
		if err := writeFrame(stream, ipframed.Serialize(reply)); err != nil {
			s.log.Error("ipquic: frame write failed", logging.Fields{"error": err.Error()})
			return
		}
	}
}

// Close shuts down the listener.
func (s *Server) Close() error {
	return s.listener.Close()
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > maxFrameSize {
		return nil, fmt.Errorf("ipquic: invalid frame length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
