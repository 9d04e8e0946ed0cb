package mirror

// Stats is a point-in-time view of the relay counters.
type Stats struct {
	State             string             `json:"state"`
	Receiver          string             `json:"receiver,omitempty"`
	Fanout            string             `json:"fanout"`
	BufferSize        int                `json:"buffer_size"`
	DatagramsReceived uint64             `json:"datagrams_received"`
	BytesReceived     uint64             `json:"bytes_received"`
	TransientErrors   uint64             `json:"transient_receive_errors"`
	Destinations      []DestinationStats `json:"destinations"`
}

// DestinationStats holds the counters of one destination.
type DestinationStats struct {
	Address   string `json:"address"`
	Datagrams uint64 `json:"datagrams"`
	Bytes     uint64 `json:"bytes"`
	Failures  uint64 `json:"failures"`
	LastError string `json:"last_error,omitempty"`
}

// Stats returns the current counters. Destinations are in table order.
func (r *Relay) Stats() Stats {
	s := Stats{
		State:             r.State().String(),
		Fanout:            string(r.cfg.Fanout),
		BufferSize:        r.cfg.BufferSize,
		DatagramsReceived: r.datagrams.Load(),
		BytesReceived:     r.bytes.Load(),
		TransientErrors:   r.transientErrors.Load(),
		Destinations:      make([]DestinationStats, len(r.dests)),
	}

	if addr := r.LocalAddr(); addr != nil {
		s.Receiver = addr.String()
	}

	for i, d := range r.dests {
		s.Destinations[i] = DestinationStats{
			Address:   d.label,
			Datagrams: d.datagrams.Load(),
			Bytes:     d.bytes.Load(),
			Failures:  d.failures.Load(),
			LastError: d.getLastError(),
		}
	}

	return s
}
