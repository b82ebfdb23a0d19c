package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alarmfox/perftest/internal/logging"
	"github.com/alarmfox/perftest/internal/pbench"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	inputDirectory = flag.String("input-directory", "", "Directory of sample files written by the client")
	outputFile     = flag.String("output-file", "", "Output file; empty writes to stdout")
	concurrency    = flag.Uint("concurrency", 1, "Number of files to analyze concurrently")
	decimalComma   = flag.Bool("decimal-comma", true, "Write decimals with a comma separator")
	logLevel       = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

var header = []string{
	"file",
	"transport",
	"pattern",
	"count",
	"rtt_mean_us",
	"rtt_p50_us",
	"rtt_p95_us",
	"rtt_p99_us",
	"server_mean_us",
	"server_p50_us",
	"server_p95_us",
	"server_p99_us",
}

type Config struct {
	InputDirectory string
	OutputFile     string
	Concurrency    uint
	DecimalComma   bool
}

// Record summarizes the samples of one transport and pattern in one file.
type Record struct {
	File      string
	Transport string
	Pattern   string
	RTT       pbench.Summary
	Server    pbench.Summary
}

func main() {
	flag.Parse()

	logger, err := logging.New(logging.Config{Level: *logLevel, Format: "text"})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	c := Config{
		InputDirectory: *inputDirectory,
		OutputFile:     *outputFile,
		Concurrency:    max(*concurrency, 1),
		DecimalComma:   *decimalComma,
	}
	if err := run(logger, c); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("analyze failed", zap.Error(err))
	}
}

func run(logger *zap.Logger, c Config) error {
	directory, err := os.ReadDir(c.InputDirectory)
	if err != nil {
		return err
	}

	var inFiles []string
	for _, content := range directory {
		if !content.IsDir() && content.Type().IsRegular() {
			inFiles = append(inFiles, filepath.Join(c.InputDirectory, content.Name()))
		}
	}

	ctx, canc := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer canc()
	g, ctx := errgroup.WithContext(ctx)

	files := make(chan string)
	records := make(chan Record)

	g.Go(func() error {
		defer close(files)
		for _, file := range inFiles {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case files <- file:
			}
		}
		return nil
	})

	g.Go(func() error {
		defer close(records)
		var workers errgroup.Group
		for i := 0; i < int(c.Concurrency); i++ {
			workers.Go(func() error {
				for file := range files {
					out, err := process(ctx, logger, file)
					if err != nil {
						logger.Warn("skipping file", zap.String("file", file), zap.Error(err))
						continue
					}
					for _, r := range out {
						records <- r
					}
				}
				return nil
			})
		}
		return workers.Wait()
	})

	g.Go(func() error {
		var writer io.Writer = os.Stdout
		if c.OutputFile != "" {
			f, err := os.Create(c.OutputFile)
			if err != nil {
				// drain so the workers can finish
				for range records {
				}
				return err
			}
			defer f.Close()
			writer = f
		}
		return writeCSV(writer, records, c.DecimalComma)
	})

	return g.Wait()
}

func writeCSV(w io.Writer, records <-chan Record, decimalComma bool) error {
	csvWriter := csv.NewWriter(w)
	csvWriter.Comma = ';'

	var werr error
	if err := csvWriter.Write(header); err != nil {
		werr = err
	}
	for record := range records {
		if werr != nil {
			continue
		}
		werr = csvWriter.Write(record.row(decimalComma))
	}
	csvWriter.Flush()
	if werr != nil {
		return werr
	}
	return csvWriter.Error()
}

func (r Record) row(decimalComma bool) []string {
	f := func(v float64) string {
		s := strconv.FormatFloat(v, 'f', 3, 64)
		if decimalComma {
			s = strings.Replace(s, ".", ",", 1)
		}
		return s
	}
	return []string{
		r.File,
		r.Transport,
		r.Pattern,
		strconv.Itoa(r.RTT.Count),
		f(r.RTT.Mean),
		f(r.RTT.P50),
		f(r.RTT.P95),
		f(r.RTT.P99),
		f(r.Server.Mean),
		f(r.Server.P50),
		f(r.Server.P95),
		f(r.Server.P99),
	}
}

type groupKey struct {
	transport string
	pattern   string
}

// process summarizes one sample file. Malformed lines are logged and
// skipped. Records come back sorted by transport and pattern.
func process(ctx context.Context, logger *zap.Logger, file string) ([]Record, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("cannot open %q: %v", file, err)
	}
	defer f.Close()

	rtts := make(map[groupKey][]time.Duration)
	servers := make(map[groupKey][]time.Duration)

	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		s, err := pbench.ParseSample(sc.Text())
		if err != nil {
			logger.Debug("bad line", zap.String("file", file), zap.Int("line", line), zap.Error(err))
			continue
		}
		k := groupKey{transport: s.Transport, pattern: s.Pattern}
		rtts[k] = append(rtts[k], s.RTT)
		servers[k] = append(servers[k], s.Server)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	keys := make([]groupKey, 0, len(rtts))
	for k := range rtts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].transport != keys[j].transport {
			return keys[i].transport < keys[j].transport
		}
		return keys[i].pattern < keys[j].pattern
	})

	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, Record{
			File:      filepath.Base(file),
			Transport: k.transport,
			Pattern:   k.pattern,
			RTT:       pbench.SummarizeDurations(rtts[k]),
			Server:    pbench.SummarizeDurations(servers[k]),
		})
	}
	return out, nil
}
