package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/leakwatch/internal/config"
	"firestige.xyz/leakwatch/internal/core"
	"firestige.xyz/leakwatch/internal/engine"
	"firestige.xyz/leakwatch/internal/inspector"
	"firestige.xyz/leakwatch/internal/source"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Replay a capture through the inspector",
	Long: `Replay a pcap or pcapng capture through the leak inspector.

Frames are stripped to their IPv4 datagram. TCP and UDP datagrams are
inspected by the worker pool, everything else passes through. Forwarded
datagrams, redacted where a hash rule applied, are written to the output
capture with the owning app as packet comment.

Examples:
  leakwatch inspect -c config.yml --in traffic.pcapng
  leakwatch inspect -c config.yml --in traffic.pcap --out inspected.pcapng -w 8`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load(configFile)
		if err != nil {
			exitWithError("failed to load config", err)
		}
		if err := runInspect(ctx, cfg, inspectOpts, cmd.OutOrStdout()); err != nil {
			exitWithError("inspect failed", err)
		}
	},
}

type inspectOptions struct {
	in      string
	out     string
	workers int
}

var inspectOpts inspectOptions

func init() {
	inspectCmd.Flags().StringVar(&inspectOpts.in, "in", "", "capture file to replay (required)")
	inspectCmd.Flags().StringVar(&inspectOpts.out, "out", "", "pcapng file for forwarded packets")
	inspectCmd.Flags().IntVarP(&inspectOpts.workers, "workers", "w", 0, "worker count (overrides inspector.workers)")
	inspectCmd.MarkFlagRequired("in")
}

type replaySummary struct {
	frames      int
	passthrough int
	forwarded   int
	dropped     int
	malformed   int
	hashed      int
	leaks       int
}

func runInspect(ctx context.Context, cfg *config.GlobalConfig, opts inspectOptions, w io.Writer) error {
	if opts.workers > 0 {
		cfg.Inspector.Workers = opts.workers
	}

	var engineOpts []engine.Option
	if opts.out != "" {
		engineOpts = append(engineOpts, engine.WithCapturePath(opts.out))
	}
	eng, err := engine.New(cfg, engineOpts...)
	if err != nil {
		return err
	}
	if err := eng.Start(); err != nil {
		eng.Stop()
		return err
	}
	defer eng.Stop()

	var filter *source.Eligibility
	if cfg.Replay.BPFEligibility {
		if filter, err = source.NewEligibility(); err != nil {
			return err
		}
	}
	src, err := source.Open(opts.in, filter)
	if err != nil {
		return err
	}
	defer src.Close()

	insp, pool := eng.Inspector(), eng.Pool()
	results := make(chan inspector.Result, cfg.Inspector.QueueSize)

	var sum replaySummary
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for r := range results {
			switch {
			case r.Err != nil:
				sum.malformed++
			case r.Verdict == core.VerdictDrop:
				sum.dropped++
			default:
				sum.forwarded++
				insp.Capture(r.Packet, r.Decision.App.Name)
			}
			sum.hashed += r.Decision.Hashed
			sum.leaks += len(r.Decision.Leaks)
		}
	}()

	readErr := replay(ctx, src, pool, insp, results, &sum)

	pool.Stop()
	close(results)
	wg.Wait()

	st := src.Stats()
	fmt.Fprintf(w, "frames=%d ip=%d eligible=%d non_ip=%d\n", st.Frames, st.Datagrams, st.Eligible, st.NonIP)
	fmt.Fprintf(w, "forwarded=%d dropped=%d malformed=%d passthrough=%d leaks=%d hashed=%d\n",
		sum.forwarded, sum.dropped, sum.malformed, sum.passthrough, sum.leaks, sum.hashed)
	if path := eng.CapturePath(); path != "" {
		fmt.Fprintf(w, "capture=%s\n", path)
	}
	return readErr
}

// replay feeds eligible datagrams to the pool and passes the others
// straight to the capture. It returns at the end of the capture or when
// ctx is cancelled.
func replay(ctx context.Context, src *source.FileSource, pool *inspector.Pool, insp *inspector.Inspector,
	results chan<- inspector.Result, sum *replaySummary) error {
	for {
		p, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		sum.frames++
		switch {
		case p.Datagram == nil:
		case !p.Eligible:
			sum.passthrough++
			insp.Capture(p.Datagram, "")
		default:
			if err := pool.Submit(ctx, inspector.Job{Packet: p.Datagram, Done: results}); err != nil {
				if errors.Is(err, context.Canceled) {
					fmt.Fprintln(os.Stderr, "interrupted, draining workers")
					return nil
				}
				return err
			}
		}
	}
}
