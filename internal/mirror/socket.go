package mirror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/net/ipv4"
)

// listen creates the receiver socket on 0.0.0.0:<port>. Creation and option
// failures wrap ErrSocketCreate, everything else wraps ErrBind.
func listen(cfg Config) (*net.UDPConn, error) {
	if cfg.ReceiverPort < 1 || cfg.ReceiverPort > 65535 {
		return nil, fmt.Errorf("%w: receiver port %d out of range (1-65535)", ErrBind, cfg.ReceiverPort)
	}

	lc := net.ListenConfig{
		Control: socketControl(cfg.ReadBuffer, cfg.WriteBuffer),
	}

	// udp4 keeps the socket IPv4-only; "udp" would create a dual-stack socket
	// on some platforms.
	addr := net.JoinHostPort(net.IPv4zero.String(), strconv.Itoa(cfg.ReceiverPort))
	pc, err := lc.ListenPacket(context.Background(), "udp4", addr)
	if err != nil {
		return nil, classifyListenError(err)
	}

	conn := pc.(*net.UDPConn)

	if cfg.TTL > 0 {
		p := ipv4.NewPacketConn(conn)
		if err := p.SetTTL(cfg.TTL); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: set ttl: %w", ErrSocketCreate, err)
		}
		if err := p.SetMulticastTTL(cfg.TTL); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: set multicast ttl: %w", ErrSocketCreate, err)
		}
	}

	return conn, nil
}

func classifyListenError(err error) error {
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		switch sysErr.Syscall {
		case "socket", "setsockopt":
			return fmt.Errorf("%w: %w", ErrSocketCreate, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrBind, err)
}
