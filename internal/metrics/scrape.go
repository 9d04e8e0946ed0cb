package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Snapshot is the relay's metrics as read back from a /metrics endpoint.
type Snapshot struct {
	Relaying          bool
	DatagramsReceived float64
	BytesReceived     float64
	TransientErrors   float64
	FatalErrors       float64
	Destinations      []DestinationSnapshot
}

// DestinationSnapshot holds the counters of one destination.
type DestinationSnapshot struct {
	Address   string
	Datagrams float64
	Bytes     float64
	Errors    float64
}

// Scrape fetches url and parses the relay metrics from the Prometheus text
// format. Credentials in the URL userinfo are sent as basic auth.
func Scrape(ctx context.Context, client *http.Client, url string) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return ParseSnapshot(resp.Body)
}

// ParseSnapshot parses relay metrics from Prometheus text exposition format.
// Families that do not belong to the relay are ignored.
func ParseSnapshot(r io.Reader) (*Snapshot, error) {
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, fmt.Errorf("parse metrics: %w", err)
	}

	s := &Snapshot{}
	byDest := make(map[string]*DestinationSnapshot)
	dest := func(addr string) *DestinationSnapshot {
		d, ok := byDest[addr]
		if !ok {
			d = &DestinationSnapshot{Address: addr}
			byDest[addr] = d
		}
		return d
	}

	for name, fam := range families {
		switch name {
		case namespace + "_relaying":
			s.Relaying = sumGauge(fam) > 0
		case namespace + "_datagrams_received_total":
			s.DatagramsReceived = sumCounter(fam)
		case namespace + "_bytes_received_total":
			s.BytesReceived = sumCounter(fam)
		case namespace + "_receive_errors_total":
			for _, m := range fam.GetMetric() {
				switch labelValue(m, "kind") {
				case "transient":
					s.TransientErrors += m.GetCounter().GetValue()
				case "fatal":
					s.FatalErrors += m.GetCounter().GetValue()
				}
			}
		case namespace + "_datagrams_forwarded_total":
			for _, m := range fam.GetMetric() {
				dest(labelValue(m, "destination")).Datagrams = m.GetCounter().GetValue()
			}
		case namespace + "_bytes_forwarded_total":
			for _, m := range fam.GetMetric() {
				dest(labelValue(m, "destination")).Bytes = m.GetCounter().GetValue()
			}
		case namespace + "_send_errors_total":
			for _, m := range fam.GetMetric() {
				dest(labelValue(m, "destination")).Errors = m.GetCounter().GetValue()
			}
		}
	}

	for _, d := range byDest {
		s.Destinations = append(s.Destinations, *d)
	}
	sort.Slice(s.Destinations, func(i, j int) bool {
		return s.Destinations[i].Address < s.Destinations[j].Address
	})

	return s, nil
}

func sumCounter(fam *dto.MetricFamily) float64 {
	var total float64
	for _, m := range fam.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	return total
}

func sumGauge(fam *dto.MetricFamily) float64 {
	var total float64
	for _, m := range fam.GetMetric() {
		total += m.GetGauge().GetValue()
	}
	return total
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
