package mirror

import (
	"io"
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"
)

// packetWriter is the send half of the receiver socket.
type packetWriter interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

// batchWriter sends several datagrams with one call (sendmmsg on Linux).
type batchWriter interface {
	WriteBatch(ms []ipv4.Message, flags int) (int, error)
}

// resultFunc receives the outcome of the send to destination i.
type resultFunc func(i, n int, err error)

// fanout offers one payload to every destination. It returns only after a
// send has been attempted for each of them.
type fanout interface {
	forward(payload []byte, result resultFunc)
}

func newFanout(mode FanoutMode, conn *net.UDPConn, table *Table) fanout {
	if mode == FanoutBatch && batchSupported {
		return newBatchFanout(ipv4.NewPacketConn(conn), table)
	}
	return newSequentialFanout(conn, table)
}

type sequentialFanout struct {
	w     packetWriter
	dests []netip.AddrPort
}

func newSequentialFanout(w packetWriter, table *Table) *sequentialFanout {
	dests := make([]netip.AddrPort, table.Len())
	for i := range dests {
		dests[i] = table.At(i).AddrPort()
	}
	return &sequentialFanout{w: w, dests: dests}
}

func (f *sequentialFanout) forward(payload []byte, result resultFunc) {
	for i, dst := range f.dests {
		n, err := f.w.WriteToUDPAddrPort(payload, dst)
		result(i, n, err)
	}
}

type batchFanout struct {
	w    batchWriter
	msgs []ipv4.Message
}

func newBatchFanout(w batchWriter, table *Table) *batchFanout {
	msgs := make([]ipv4.Message, table.Len())
	for i := range msgs {
		msgs[i] = ipv4.Message{
			Buffers: make([][]byte, 1),
			Addr:    table.At(i).UDPAddr(),
		}
	}
	return &batchFanout{w: w, msgs: msgs}
}

// forward sends the batch and, when a message fails, reports it and resumes
// with the message after it.
func (f *batchFanout) forward(payload []byte, result resultFunc) {
	for i := range f.msgs {
		f.msgs[i].Buffers[0] = payload
		f.msgs[i].N = 0
	}

	for i := 0; i < len(f.msgs); {
		n, err := f.w.WriteBatch(f.msgs[i:], 0)
		if n < 0 {
			n = 0
		}
		for j := i; j < i+n; j++ {
			result(j, f.msgs[j].N, nil)
		}
		i += n
		if i >= len(f.msgs) {
			break
		}
		if err == nil {
			if n > 0 {
				continue
			}
			err = io.ErrShortWrite
		}
		result(i, 0, err)
		i++
	}

	for i := range f.msgs {
		f.msgs[i].Buffers[0] = nil
	}
}
