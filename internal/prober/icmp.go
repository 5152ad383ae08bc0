package prober

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	protocolICMP     = 1
	protocolIPv6ICMP = 58
)

type icmpFamily struct {
	unprivileged string
	raw          string
	anyAddr      string
	protocol     int
	request      icmp.Type
	reply        icmp.Type
}

// echoIDs hands every ping sequence its own identifier so concurrent
// sequences on raw sockets can tell their replies apart.
var echoIDs atomic.Uint32

func init() {
	echoIDs.Store(uint32(os.Getpid()))
}

func nextEchoID() int {
	return int(echoIDs.Add(1) & 0xffff)
}

var (
	icmpV4 = icmpFamily{"udp4", "ip4:icmp", "0.0.0.0", protocolICMP, ipv4.ICMPTypeEcho, ipv4.ICMPTypeEchoReply}
	icmpV6 = icmpFamily{"udp6", "ip6:ipv6-icmp", "::", protocolIPv6ICMP, ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply}
)

// icmpPing sends times echo requests, one at a time. Any reply other than an
// echo reply fails the whole sequence.
func (p *Prober) icmpPing(ctx context.Context, host, _ string, times int) ([]float64, error) {
	ip, err := p.resolveOne(ctx, host)
	if err != nil {
		return nil, err
	}

	fam := icmpV4
	if ip.To4() == nil {
		fam = icmpV6
	}

	conn, privileged, err := p.listenICMP(fam)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var dst net.Addr = &net.UDPAddr{IP: ip}
	if privileged {
		dst = &net.IPAddr{IP: ip}
	}

	want := echoMatch{peer: ip, id: nextEchoID(), checkID: privileged}
	limiter := p.pacer()
	reply := make([]byte, 1500)
	samples := make([]float64, 0, times)

	for seq := 0; seq < times; seq++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		msg := icmp.Message{
			Type: fam.request,
			Body: &icmp.Echo{ID: want.id, Seq: seq, Data: []byte("speedpool")},
		}
		wire, err := msg.Marshal(nil)
		if err != nil {
			return nil, err
		}

		deadline := time.Now().Add(p.minPingWait)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}

		start := time.Now()
		if _, err := conn.WriteTo(wire, dst); err != nil {
			return nil, fmt.Errorf("failed to send echo request: %w", err)
		}
		want.seq = seq
		if err := awaitReply(conn, reply, fam, want); err != nil {
			return nil, err
		}
		samples = append(samples, millisSince(start))
	}
	return samples, nil
}

// echoMatch identifies the reply to one echo request. Datagram sockets get
// their identifier rewritten by the kernel, so it is only checked on raw ones.
type echoMatch struct {
	peer    net.IP
	id      int
	seq     int
	checkID bool
}

func (m echoMatch) accepts(from net.Addr, echo *icmp.Echo) bool {
	if echo.Seq != m.seq || (m.checkID && echo.ID != m.id) {
		return false
	}
	return fromPeer(from, m.peer)
}

type packetReader interface {
	ReadFrom(b []byte) (int, net.Addr, error)
}

// awaitReply reads until the reply to want arrives. A raw socket sees every
// ICMP packet of the host, so traffic of other hosts and sequences is skipped;
// only a non-echo message from the pinged host fails the sequence.
func awaitReply(conn packetReader, buf []byte, fam icmpFamily, want echoMatch) error {
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			return fmt.Errorf("no echo reply: %w", err)
		}
		msg, err := icmp.ParseMessage(fam.protocol, buf[:n])
		if err != nil {
			continue
		}
		switch msg.Type {
		case fam.reply:
			if echo, ok := msg.Body.(*icmp.Echo); ok && want.accepts(from, echo) {
				return nil
			}
		case fam.request:
			// Requests looped back on a raw socket.
		default:
			if fromPeer(from, want.peer) {
				return fmt.Errorf("icmp status %v", msg.Type)
			}
		}
	}
}

func fromPeer(from net.Addr, peer net.IP) bool {
	switch a := from.(type) {
	case *net.IPAddr:
		return a.IP.Equal(peer)
	case *net.UDPAddr:
		return a.IP.Equal(peer)
	}
	return false
}

// listenICMP prefers an unprivileged datagram socket and falls back to a raw one.
func (p *Prober) listenICMP(fam icmpFamily) (*icmp.PacketConn, bool, error) {
	addr := fam.anyAddr
	if local, ok := p.dialer.LocalAddr.(*net.TCPAddr); ok && local != nil {
		addr = local.IP.String()
	}

	conn, err := icmp.ListenPacket(fam.unprivileged, addr)
	if err == nil {
		return conn, false, nil
	}
	raw, rawErr := icmp.ListenPacket(fam.raw, addr)
	if rawErr == nil {
		return raw, true, nil
	}
	return nil, false, fmt.Errorf("failed to open icmp socket: %w", errors.Join(err, rawErr))
}
