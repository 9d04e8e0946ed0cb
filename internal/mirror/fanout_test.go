package mirror

import (
	"bytes"
	"errors"
	"net"
	"net/netip"
	"testing"

	"golang.org/x/net/ipv4"
)

type sent struct {
	addr    string
	payload []byte
}

type result struct {
	index int
	n     int
	err   error
}

func collect(results *[]result) resultFunc {
	return func(i, n int, err error) {
		*results = append(*results, result{index: i, n: n, err: err})
	}
}

// fakeWriter records writes and fails those addressed to fail.
type fakeWriter struct {
	fail map[string]error
	sent []sent
}

func (w *fakeWriter) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	if err, ok := w.fail[addr.String()]; ok {
		return 0, err
	}
	w.sent = append(w.sent, sent{addr: addr.String(), payload: append([]byte(nil), b...)})
	return len(b), nil
}

// fakeBatchWriter behaves like sendmmsg: it stops at the first failing
// message and reports how many were sent before it.
type fakeBatchWriter struct {
	fail  map[string]error
	sent  []sent
	calls int
}

func (w *fakeBatchWriter) WriteBatch(ms []ipv4.Message, _ int) (int, error) {
	w.calls++
	for j := range ms {
		addr := ms[j].Addr.String()
		if err, ok := w.fail[addr]; ok {
			if j == 0 {
				return -1, err
			}
			return j, nil
		}
		ms[j].N = len(ms[j].Buffers[0])
		w.sent = append(w.sent, sent{addr: addr, payload: append([]byte(nil), ms[j].Buffers[0]...)})
	}
	return len(ms), nil
}

func TestSequentialFanout(t *testing.T) {
	table := mustTable(t, "127.0.0.1:5000", "127.0.0.1:5001", "127.0.0.1:5000")
	w := &fakeWriter{}
	f := newSequentialFanout(w, table)

	var results []result
	f.forward([]byte("hello"), collect(&results))

	if len(w.sent) != 3 {
		t.Fatalf("sent %d datagrams, want 3", len(w.sent))
	}
	for i, s := range w.sent {
		if s.addr != table.At(i).String() {
			t.Errorf("send %d went to %s, want %s", i, s.addr, table.At(i))
		}
		if !bytes.Equal(s.payload, []byte("hello")) {
			t.Errorf("send %d payload = %q, want %q", i, s.payload, "hello")
		}
	}

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r.index != i || r.n != 5 || r.err != nil {
			t.Errorf("result %d = %+v, want {index:%d n:5 err:nil}", i, r, i)
		}
	}
}

func TestSequentialFanout_PartialFailure(t *testing.T) {
	table := mustTable(t, "127.0.0.1:5000", "10.255.255.1:5001", "127.0.0.1:5002")
	sendErr := errors.New("network is unreachable")
	w := &fakeWriter{fail: map[string]error{"10.255.255.1:5001": sendErr}}
	f := newSequentialFanout(w, table)

	var results []result
	f.forward([]byte("x"), collect(&results))

	if len(w.sent) != 2 {
		t.Fatalf("sent %d datagrams, want 2", len(w.sent))
	}
	if w.sent[0].addr != "127.0.0.1:5000" || w.sent[1].addr != "127.0.0.1:5002" {
		t.Errorf("sent to %s and %s, want 127.0.0.1:5000 and 127.0.0.1:5002", w.sent[0].addr, w.sent[1].addr)
	}

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !errors.Is(results[1].err, sendErr) {
		t.Errorf("result 1 err = %v, want %v", results[1].err, sendErr)
	}
	if results[0].err != nil || results[2].err != nil {
		t.Errorf("unexpected errors: %v, %v", results[0].err, results[2].err)
	}
}

func TestBatchFanout(t *testing.T) {
	table := mustTable(t, "127.0.0.1:5000", "127.0.0.1:5001")
	w := &fakeBatchWriter{}
	f := newBatchFanout(w, table)

	var results []result
	f.forward([]byte("hello"), collect(&results))

	if w.calls != 1 {
		t.Errorf("WriteBatch called %d times, want 1", w.calls)
	}
	if len(w.sent) != 2 {
		t.Fatalf("sent %d datagrams, want 2", len(w.sent))
	}
	for i, r := range results {
		if r.index != i || r.n != 5 || r.err != nil {
			t.Errorf("result %d = %+v", i, r)
		}
	}

	// The payload must not be retained between datagrams.
	for i := range f.msgs {
		if f.msgs[i].Buffers[0] != nil {
			t.Errorf("message %d still references the payload", i)
		}
	}
}

func TestBatchFanout_ResumesAfterFailure(t *testing.T) {
	table := mustTable(t,
		"127.0.0.1:5000",
		"10.255.255.1:5001",
		"127.0.0.1:5002",
		"10.255.255.2:5003",
	)
	errA := errors.New("unreachable a")
	errB := errors.New("unreachable b")
	w := &fakeBatchWriter{fail: map[string]error{
		"10.255.255.1:5001": errA,
		"10.255.255.2:5003": errB,
	}}
	f := newBatchFanout(w, table)

	var results []result
	f.forward([]byte("abc"), collect(&results))

	if len(results) != 4 {
		t.Fatalf("got %d results, want 4: %+v", len(results), results)
	}
	for i, r := range results {
		if r.index != i {
			t.Errorf("result %d has index %d", i, r.index)
		}
	}
	if results[0].err != nil || results[2].err != nil {
		t.Errorf("healthy destinations failed: %v, %v", results[0].err, results[2].err)
	}
	if !errors.Is(results[1].err, errA) {
		t.Errorf("result 1 err = %v, want %v", results[1].err, errA)
	}
	if !errors.Is(results[3].err, errB) {
		t.Errorf("result 3 err = %v, want %v", results[3].err, errB)
	}

	if len(w.sent) != 2 {
		t.Errorf("sent %d datagrams, want 2", len(w.sent))
	}
}

// stalledBatchWriter sends nothing and reports no error.
type stalledBatchWriter struct{}

func (stalledBatchWriter) WriteBatch([]ipv4.Message, int) (int, error) { return 0, nil }

func TestBatchFanout_NoProgress(t *testing.T) {
	table := mustTable(t, "127.0.0.1:5000", "127.0.0.1:5001")
	f := newBatchFanout(stalledBatchWriter{}, table)

	var results []result
	f.forward([]byte("abc"), collect(&results))

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.err == nil {
			t.Errorf("result %d err = nil, want short write", r.index)
		}
	}
}

func TestNewFanout_Mode(t *testing.T) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	defer conn.Close()

	table := mustTable(t, "127.0.0.1:5000")

	if _, ok := newFanout(FanoutSequential, conn, table).(*sequentialFanout); !ok {
		t.Error("sequential mode should build a sequentialFanout")
	}
	f := newFanout(FanoutBatch, conn, table)
	if batchSupported {
		if _, ok := f.(*batchFanout); !ok {
			t.Error("batch mode should build a batchFanout")
		}
	} else if _, ok := f.(*sequentialFanout); !ok {
		t.Error("batch mode should fall back to sequentialFanout")
	}
}
