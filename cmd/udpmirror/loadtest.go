package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/postalsys/udpmirror/internal/config"
	"github.com/postalsys/udpmirror/internal/loadtest"
	"github.com/postalsys/udpmirror/internal/logging"
)

func loadtestCmd() *cobra.Command {
	var (
		cfg       loadtest.Config
		size      string
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Send test traffic through a relay",
		Long: `Send datagrams to a relay receiver and count how many arrive at each sink.
Sinks listen on the given addresses, which should be the relay's destinations.`,
		Example: `  udpmirror loadtest --target 127.0.0.1:9000 \
    --sink 127.0.0.1:5000 --sink 127.0.0.1:5001 --count 10000 --rate 5000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := config.ParseByteSize(size)
			if err != nil {
				return fmt.Errorf("invalid --size: %w", err)
			}
			cfg.Size = int(n)

			logger := logging.NewLogger(logLevel, logFormat)
			g, err := loadtest.NewDatagramLoadGenerator(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			m, err := g.Run(ctx)
			if err != nil {
				return err
			}

			printLoadtest(newPrinter(cmd.OutOrStdout()), m)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfg.Target, "target", "t", "127.0.0.1:9000", "Relay receiver address")
	f.StringArrayVar(&cfg.Sinks, "sink", nil, "Address to receive mirrored datagrams on (repeatable)")
	f.StringVar(&size, "size", "512", "Payload size, e.g. 512 or 1KiB")
	f.IntVarP(&cfg.Count, "count", "n", 0, "Number of datagrams to send, 0 for no limit")
	f.Float64Var(&cfg.Rate, "rate", 1000, "Datagrams per second, 0 for unlimited")
	f.IntVar(&cfg.Concurrency, "concurrency", 1, "Number of sending sockets")
	f.DurationVar(&cfg.Duration, "duration", 10*time.Second, "Maximum sending time")
	f.DurationVar(&cfg.Drain, "drain", 500*time.Millisecond, "Time sinks keep reading after sending stops")
	f.StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	f.StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	return cmd
}

func printLoadtest(p *printer, m *loadtest.DatagramMetrics) {
	fmt.Fprintln(p.w, p.render(titleStyle, "udpmirror load test"))
	fmt.Fprintln(p.w)

	p.field("Sent", fmt.Sprintf("%s datagrams, %s",
		humanize.Comma(m.Sent), humanize.IBytes(uint64(m.BytesSent))))
	p.field("Send errors", humanize.Comma(m.SendErrors))
	p.field("Duration", m.Duration.Round(time.Millisecond).String())
	p.field("Rate", fmt.Sprintf("%s datagrams/s, %.2f MiB/s",
		humanize.CommafWithDigits(m.SendRate, 0), m.ThroughputMB))
	fmt.Fprintln(p.w)

	if len(m.Sinks) == 0 {
		return
	}

	rows := make([][]string, 0, len(m.Sinks))
	for _, s := range m.Sinks {
		rows = append(rows, []string{
			s.Address,
			humanize.Comma(s.Received),
			humanize.IBytes(uint64(s.Bytes)),
			strconv.FormatFloat(s.LossPercent, 'f', 2, 64) + "%",
			fmt.Sprintf("%.3f / %.3f / %.3f", s.MinLatencyMs, s.AvgLatencyMs, s.MaxLatencyMs),
		})
	}
	p.table([]string{"SINK", "RECEIVED", "BYTES", "LOSS", "LATENCY MS (MIN/AVG/MAX)"}, rows)
}
