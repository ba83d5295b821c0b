package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"tessera.dev/sync/assets"
	"tessera.dev/sync/service"
	"tessera.dev/sync/store"
	"tessera.dev/sync/transport"
)

const Version = "0.0.1"

const DefaultSnapshotInterval = 30 * time.Second

func main() {
	usage := `Tessera sync server.

Usage:
    syncd serve [--port=<port>] [--db=<db>] --secret=<secret>
        [--snapshot_interval=<snapshot_interval>]

Options:
    -h --help                                    Show this screen.
    --version                                    Show version.
    --secret=<secret>                            JWT signing secret.
    --db=<db>                                    Snapshot database path [default: sync.db].
    --snapshot_interval=<snapshot_interval>      Seconds between snapshots [default: 30].
    -p --port=<port>                             Listen port [default: 8080].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	}
}

func serve(opts docopt.Opts) {
	port, _ := opts.Int("--port")
	dbPath, _ := opts.String("--db")
	secret, _ := opts.String("--secret")
	snapshotIntervalSeconds, _ := opts.Int("--snapshot_interval")
	snapshotInterval := DefaultSnapshotInterval
	if 0 < snapshotIntervalSeconds {
		snapshotInterval = time.Duration(snapshotIntervalSeconds) * time.Second
	}

	cancelCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	snapshots, err := store.NewStore(dbPath)
	if err != nil {
		glog.Errorf("[main]store open error = %s\n", err)
		os.Exit(1)
	}
	defer snapshots.Close()

	svc := service.NewServiceWithDefaults(cancelCtx, snapshots, assets.DefaultKindSet())
	if err := svc.RestoreSnapshot(cancelCtx); err != nil {
		glog.Errorf("[main]snapshot restore error = %s\n", err)
		os.Exit(1)
	}

	t := transport.NewTransportWithDefaults(cancelCtx, svc, []byte(secret))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: t.Router(),
	}

	go func() {
		ticker := time.NewTicker(snapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-cancelCtx.Done():
				return
			case <-ticker.C:
				if err := svc.SaveSnapshot(cancelCtx); err != nil {
					glog.Warningf("[main]snapshot save error = %s\n", err)
				}
			}
		}
	}()

	go func() {
		<-cancelCtx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	glog.Infof("[main]listening on :%d\n", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		glog.Errorf("[main]serve error = %s\n", err)
		os.Exit(1)
	}

	// final snapshot on the way out
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer saveCancel()
	if err := svc.SaveSnapshot(saveCtx); err != nil {
		glog.Warningf("[main]final snapshot save error = %s\n", err)
	}
	glog.Infof("[main]done\n")
}
