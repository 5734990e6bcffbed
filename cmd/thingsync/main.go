// Command thingsync manages archived snapshots of the reference store and
// runs a session probe against it.
//
//	thingsync seed   [-key k]      write the built-in seed snapshot to the archive
//	thingsync list   [-prefix p]   list archived snapshots
//	thingsync backup -key k        snapshot the configured store into the archive
//	thingsync probe  [-metrics m]  open a session, read the catalog, refresh and close
//
// Storage and archive backends come from THINGSYNC_* environment variables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"thingsync/internal/archive"
	"thingsync/internal/infra/persistence"
	"thingsync/internal/observability"
	"thingsync/internal/platform/config"
	"thingsync/internal/remote"
	"thingsync/pkg/session"
	"thingsync/pkg/transport"
)

var (
	exitFunc   = os.Exit
	loadConfig = config.Load
)

func main() {
	code := cli(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	glog.Flush()
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "seed":
		err = runSeed(ctx, cfg, rest, stdout, stderr)
	case "list":
		err = runList(ctx, cfg, rest, stdout, stderr)
	case "backup":
		err = runBackup(ctx, cfg, rest, stdout, stderr)
	case "probe":
		err = runProbe(ctx, cfg, rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		usage(stderr)
		return 2
	}
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: thingsync <seed|list|backup|probe> [flags]")
}

func newFlags(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runSeed(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) error {
	fs := newFlags("seed", stderr)
	key := fs.String("key", archive.SeedKey, "archive key to write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := archive.Open(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	entry, err := a.Save(ctx, *key, remote.DefaultSnapshot())
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s (%d bytes, sha256 %s)\n", entry.Key, entry.Size, entry.Digest)
	return nil
}

func runList(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) error {
	fs := newFlags("list", stderr)
	prefix := fs.String("prefix", "", "only list keys with this prefix")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := archive.Open(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	entries, err := a.List(ctx, *prefix)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSIZE\tRECORDS\tMODIFIED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.Key, e.Size, e.Metadata["records"], e.LastModified.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func runBackup(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) error {
	fs := newFlags("backup", stderr)
	key := fs.String("key", "", "archive key to write (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("-key is required")
	}
	a, err := archive.Open(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	server, closeStore, err := openServer(ctx, cfg, a)
	if err != nil {
		return err
	}
	defer closeStore()
	entry, err := a.Save(ctx, *key, server.Snapshot())
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s (%s records)\n", entry.Key, entry.Metadata["records"])
	return nil
}

func runProbe(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) error {
	fs := newFlags("probe", stderr)
	metrics := fs.String("metrics", "prometheus", "metrics output: prometheus or expvar")
	trace := fs.Bool("trace", false, "write spans as JSON lines to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := archive.Open(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	server, closeStore, err := openServer(ctx, cfg, a)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := []session.Option{}
	var (
		reg    *prometheus.Registry
		totals *observability.ExpvarRecorder
	)
	switch *metrics {
	case "prometheus":
		reg = prometheus.NewRegistry()
		rec, err := observability.NewPrometheusRecorder(cfg.MetricsNamespace, reg)
		if err != nil {
			return err
		}
		opts = append(opts, session.WithMetricsRecorder(rec))
	case "expvar":
		totals = observability.NewExpvarRecorder("")
		opts = append(opts, session.WithMetricsRecorder(totals))
	default:
		return fmt.Errorf("unknown metrics output %q", *metrics)
	}
	if *trace {
		opts = append(opts, session.WithTracer(observability.NewJSONTracer(stderr)))
	}

	sess := session.New(remote.NewLoopback(server), opts...)
	if _, err := sess.Open(ctx); err != nil {
		return err
	}
	info := sess.Info()
	fmt.Fprintf(stdout, "catalog %s version %s revision %d\n", info.Catalog, info.Version, info.Revision)
	if _, err := sess.Read(ctx, info.Catalog, transport.Scope{}); err != nil {
		return err
	}
	merged, err := sess.Refresh(ctx)
	if err != nil {
		return err
	}
	glog.V(1).Infof("probe refresh merged %+v", merged)
	fmt.Fprintf(stdout, "cached %d things\n", sess.Cache().Size())
	if _, err := sess.Close(ctx); err != nil {
		return err
	}

	if reg != nil {
		families, err := reg.Gather()
		if err != nil {
			return err
		}
		for _, mf := range families {
			if _, err := expfmt.MetricFamilyToText(stdout, mf); err != nil {
				return err
			}
		}
		return nil
	}
	for op, t := range totals.Totals() {
		fmt.Fprintf(stdout, "%s count=%d errors=%d duration_ms=%.3f\n", op, t.Count, t.Errors, t.DurationMS)
	}
	return nil
}

func openServer(ctx context.Context, cfg config.Config, a *archive.Archive) (*remote.Server, func(), error) {
	store, err := persistence.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	opts := []remote.Option{}
	if cfg.Archive.SeedKey != "" {
		opts = append(opts, remote.WithSeedSource(a.Source(cfg.Archive.SeedKey)))
	}
	server, err := remote.NewServer(ctx, store, opts...)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			glog.Warningf("close store: %v", err)
		}
	}
	return server, closeStore, nil
}
