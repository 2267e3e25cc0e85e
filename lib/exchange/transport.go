package exchange

/* transport.go moves opaque byte messages between ranks. The protocol layer
only ever talks to the Transport interface, so a test harness can run several
ranks inside one process over channels while a production run uses the TCP
mesh. */

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// Transport delivers whole messages between this rank and its peers. Send
// and Recv block; messages from one peer arrive in the order they were sent.
type Transport interface {
	Send(peer int, b []byte) error
	Recv(peer int) ([]byte, error)
}

// channelTransport is one endpoint of an in-process rank group. ch[i][j]
// carries messages from rank i to rank j.
type channelTransport struct {
	rank int
	ch   [][]chan []byte
}

// NewChannelGroup creates n in-process transports wired into a full mesh.
// Element i is rank i's endpoint. Channels are buffered so the pairwise
// ordered protocol never blocks a sender whose peer has not reached its
// receive yet.
func NewChannelGroup(n int) []Transport {
	ch := make([][]chan []byte, n)
	for i := range ch {
		ch[i] = make([]chan []byte, n)
		for j := range ch[i] {
			ch[i][j] = make(chan []byte, 8)
		}
	}

	out := make([]Transport, n)
	for i := range out {
		out[i] = &channelTransport{rank: i, ch: ch}
	}
	return out
}

func (t *channelTransport) Send(peer int, b []byte) error {
	t.ch[t.rank][peer] <- b
	return nil
}

func (t *channelTransport) Recv(peer int) ([]byte, error) {
	b, ok := <-t.ch[peer][t.rank]
	if !ok {
		return nil, fmt.Errorf("Rank %d closed its channel to rank %d.",
			peer, t.rank)
	}
	return b, nil
}

// TCPTransport is one endpoint of a TCP rank mesh. Messages are framed with
// a little-endian uint32 length prefix.
type TCPTransport struct {
	rank  int
	conns []net.Conn
	mu    []sync.Mutex
}

// NewTCPTransport connects rank into a full mesh over the given addresses,
// one per rank. Every rank listens on its own address; lower ranks dial
// higher ones and identify themselves with a one-int32 handshake, so the
// accepting side knows which peer each connection belongs to. The call
// returns once all nranks-1 connections are up.
func NewTCPTransport(rank int, addrs []string) (*TCPTransport, error) {
	n := len(addrs)
	t := &TCPTransport{
		rank:  rank,
		conns: make([]net.Conn, n),
		mu:    make([]sync.Mutex, n),
	}

	ln, err := net.Listen("tcp", addrs[rank])
	if err != nil {
		return nil, fmt.Errorf("Rank %d could not listen on %s: %v",
			rank, addrs[rank], err)
	}
	defer ln.Close()

	accepted := make(chan error, 1)
	go func() {
		for got := 0; got < rank; got++ {
			conn, err := ln.Accept()
			if err != nil {
				accepted <- err
				return
			}
			var peer int32
			if err := binary.Read(conn, byteOrder, &peer); err != nil {
				accepted <- err
				return
			}
			if peer < 0 || int(peer) >= n || t.conns[peer] != nil {
				accepted <- fmt.Errorf(
					"Rank %d received an invalid handshake id %d.", rank, peer)
				return
			}
			t.conns[peer] = conn
		}
		accepted <- nil
	}()

	for peer := rank + 1; peer < n; peer++ {
		conn, err := net.Dial("tcp", addrs[peer])
		if err != nil {
			return nil, fmt.Errorf("Rank %d could not dial rank %d at %s: %v",
				rank, peer, addrs[peer], err)
		}
		if err := binary.Write(conn, byteOrder, int32(rank)); err != nil {
			return nil, err
		}
		t.conns[peer] = conn
	}

	if err := <-accepted; err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TCPTransport) Send(peer int, b []byte) error {
	t.mu[peer].Lock()
	defer t.mu[peer].Unlock()

	conn := t.conns[peer]
	if err := binary.Write(conn, byteOrder, uint32(len(b))); err != nil {
		return err
	}
	_, err := conn.Write(b)
	return err
}

func (t *TCPTransport) Recv(peer int) ([]byte, error) {
	conn := t.conns[peer]
	var length uint32
	if err := binary.Read(conn, byteOrder, &length); err != nil {
		return nil, err
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(conn, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Close tears down every connection in the mesh.
func (t *TCPTransport) Close() error {
	var first error
	for _, conn := range t.conns {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
