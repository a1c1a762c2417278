package iface

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// BGPListener is the TCP server socket of spec §4.2 (default port 179).
type BGPListener struct {
	ln net.Listener
}

// ListenBGP binds a TCP listener on addr (default "0.0.0.0:179").
func ListenBGP(addr string) (*BGPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &BGPListener{ln: ln}, nil
}

func (l *BGPListener) Accept() (net.Conn, error) { return l.ln.Accept() }
func (l *BGPListener) Close() error              { return l.ln.Close() }

// DialBGP opens the client-side connection for one peer (spec §4.2: "one
// client dialer per peer"). When md5Key is non-empty, TCP_MD5SIG is set
// on the socket (RFC 2385) before connecting.
func DialBGP(ctx context.Context, remote string, md5Key string, connectTimeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: connectTimeout}
	if md5Key != "" {
		d.Control = func(network, address string, c syscall.RawConn) error {
			return setTCPMD5(c, address, md5Key)
		}
	}
	return d.DialContext(ctx, "tcp", remote)
}

// EnableListenerMD5 arranges for every accepted connection from peerAddr
// to use RFC 2385 TCP MD5, by pre-installing the key on the listening
// socket (Linux requires the key to be present before the SYN arrives).
func EnableListenerMD5(ln *BGPListener, peerAddr net.IP, key string) error {
	sc, ok := ln.ln.(*net.TCPListener)
	if !ok {
		return fmt.Errorf("iface: MD5 only supported on TCP listeners")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	return setTCPMD5(raw, peerAddr.String()+":0", key)
}

func setTCPMD5(c syscall.RawConn, address string, key string) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = address
	}
	ip := net.ParseIP(host)
	var setErr error
	ctrlErr := c.Control(func(fd uintptr) {
		sig := unix.TCPMD5Sig{}
		sig.Keylen = uint16(len(key))
		copy(sig.Key[:], key)
		if ip4 := ip.To4(); ip4 != nil {
			sig.Addr.Family = unix.AF_INET
			copy(sig.Addr.Addr[:], ip4)
		}
		setErr = unix.SetsockoptTCPMD5Sig(int(fd), unix.IPPROTO_TCP, unix.TCP_MD5SIG, &sig)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return setErr
}
