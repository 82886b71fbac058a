package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"peerchat/internal/domain"
	"peerchat/internal/protocol/packet"
)

const (
	// MaxPacketBytes caps a single TCP packet.
	MaxPacketBytes = 64 << 10

	AckOK = "OK"

	maxAckBytes = 1024
	errPrefix   = "ERR "

	DefaultDialTimeout = 3 * time.Second
	DefaultIOTimeout   = 5 * time.Second
)

// Dialer performs one-shot request/ack exchanges.
type Dialer struct {
	DialTimeout time.Duration
	IOTimeout   time.Duration
}

// Exchange sends p to addr and waits for the ack. A non-OK ack yields an
// error wrapping domain.ErrRejected.
func (d Dialer) Exchange(ctx context.Context, addr string, p packet.Packet) error {
	b, err := packet.Encode(p)
	if err != nil {
		return err
	}

	nd := net.Dialer{Timeout: orDefault(d.DialTimeout, DefaultDialTimeout)}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.SetDeadline(time.Now().Add(orDefault(d.IOTimeout, DefaultIOTimeout))); err != nil {
		return err
	}
	if _, err := conn.Write(b); err != nil {
		return fmt.Errorf("write %s to %s: %w", p.PacketType(), addr, ctxErr(ctx, err))
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}

	ack, err := io.ReadAll(io.LimitReader(conn, maxAckBytes))
	if err != nil {
		return fmt.Errorf("read ack from %s: %w", addr, ctxErr(ctx, err))
	}
	return parseAck(string(ack))
}

func parseAck(ack string) error {
	ack = strings.TrimSpace(ack)
	switch {
	case ack == AckOK:
		return nil
	case strings.HasPrefix(ack, errPrefix):
		return fmt.Errorf("%w: %s", domain.ErrRejected, strings.TrimPrefix(ack, errPrefix))
	case ack == "":
		return fmt.Errorf("%w: no ack", domain.ErrRejected)
	}
	return fmt.Errorf("%w: unexpected ack %q", domain.ErrRejected, ack)
}

func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}

// ReadPacket decodes exactly one JSON packet of at most MaxPacketBytes.
func ReadPacket(r io.Reader) (packet.Packet, error) {
	dec := json.NewDecoder(io.LimitReader(r, MaxPacketBytes))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPacket, err)
	}
	return packet.Decode(raw)
}

// Handler processes one decoded packet. A nil error is acked with OK.
type Handler interface {
	HandlePacket(ctx context.Context, remote *net.TCPAddr, p packet.Packet) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, remote *net.TCPAddr, p packet.Packet) error

func (f HandlerFunc) HandlePacket(ctx context.Context, remote *net.TCPAddr, p packet.Packet) error {
	return f(ctx, remote, p)
}

// Server is the TCP accept loop.
type Server struct {
	Handler   Handler
	IOTimeout time.Duration
	Logger    *zap.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// Listen binds addr. It must be called before Serve.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() *net.TCPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr().(*net.TCPAddr)
}

// Close releases the listener without serving. Serve closes it itself.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// Serve accepts connections until ctx is cancelled, then closes the listener,
// waits for in-flight connections and returns nil.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("transport: Serve called before Listen")
	}
	log := s.logger()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn("accept failed", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := s.logger().With(zap.Stringer("remote", conn.RemoteAddr()))

	_ = conn.SetDeadline(time.Now().Add(orDefault(s.IOTimeout, DefaultIOTimeout)))

	p, err := ReadPacket(conn)
	if err != nil {
		log.Warn("dropping packet", zap.Error(err))
		writeAck(conn, err)
		return
	}
	remote, _ := conn.RemoteAddr().(*net.TCPAddr)
	if err := s.Handler.HandlePacket(ctx, remote, p); err != nil {
		log.Warn("packet rejected", zap.String("type", string(p.PacketType())), zap.Error(err))
		writeAck(conn, err)
		return
	}
	writeAck(conn, nil)
}

func writeAck(w io.Writer, err error) {
	if err == nil {
		_, _ = io.WriteString(w, AckOK)
		return
	}
	reason := strings.NewReplacer("\n", " ", "\r", " ").Replace(err.Error())
	_, _ = io.WriteString(w, errPrefix+reason)
}

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Exchanger is the client side of a one-shot exchange.
type Exchanger interface {
	Exchange(ctx context.Context, addr string, p packet.Packet) error
}

var _ Exchanger = Dialer{}
