// Command partitiond runs a single k23si partition: the persistence log,
// CPO/TSO client facades, metrics, and the verb-dispatch Module, fronted by
// a redcon Redis-protocol listener and a gRPC listener carrying only health
// and reflection (no generated client was retrieved for the eight domain
// verbs, so they are not re-exposed over gRPC here — see DESIGN.md).
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/k2platform/k23si/clock"
	"github.com/k2platform/k23si/cpo"
	"github.com/k2platform/k23si/metrics"
	"github.com/k2platform/k23si/partition"
	"github.com/k2platform/k23si/persist"
	"github.com/k2platform/k23si/tso"
)

var (
	redisAddr   = flag.String("redis_address", "localhost:6380", "TCP host+port for the redcon front end")
	grpcAddr    = flag.String("grpc_address", "localhost:50051", "TCP host+port for the gRPC health/reflection listener")
	metricsAddr = flag.String("metrics_address", "localhost:9090", "TCP host+port for the Prometheus /metrics endpoint")
	dataDir     = flag.String("data_dir", "data/", "directory holding the partition's bbolt log file")
	collection  = flag.String("collection", "default", "name of the collection this partition serves")
)

func main() {
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(logger); err != nil {
		logger.Error("partitiond exited", slog.Any("err", err))
		log.Fatalf("partitiond: %v", err)
	}
}

func run(logger *slog.Logger) error {
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		return errors.WithStack(err)
	}

	log, err := persist.Open(*dataDir + "/partition.db")
	if err != nil {
		return errors.Wrap(err, "open persistence log")
	}
	defer log.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		return errors.Wrap(err, "register metrics")
	}

	cpoClient := cpo.New(singlePartitionSource{collection: *collection})
	tsoOracle := tso.New(clock.New())

	cfg := partition.DefaultConfig()
	mod := partition.New(cfg, *collection, "p0", log, cpoClient, tsoOracle, m)

	if err := mod.Recover(); err != nil {
		return errors.Wrap(err, "recover partition state")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisL, err := net.Listen("tcp", *redisAddr)
	if err != nil {
		return errors.Wrap(err, "listen redis")
	}
	grpcL, err := net.Listen("tcp", *grpcAddr)
	if err != nil {
		return errors.Wrap(err, "listen grpc")
	}
	metricsL, err := net.Listen("tcp", *metricsAddr)
	if err != nil {
		return errors.Wrap(err, "listen metrics")
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	reflection.Register(grpcServer)
	healthSrv.SetServingStatus("partitiond", healthpb.HealthCheckResponse_SERVING)

	redisServer := newRedisServer(redisL, mod, tsoOracle, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Handler: mux}

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return errors.WithStack(grpcServer.Serve(grpcL)) })
	eg.Go(func() error { return errors.WithStack(redisServer.Run()) })
	eg.Go(func() error { return errors.WithStack(metricsServer.Serve(metricsL)) })
	eg.Go(func() error { return runTickers(egctx, mod, cfg) })
	eg.Go(func() error {
		<-egctx.Done()
		grpcServer.GracefulStop()
		redisServer.Stop()
		_ = metricsServer.Close()
		return nil
	})

	logger.Info("partitiond listening",
		slog.String("redis", *redisAddr), slog.String("grpc", *grpcAddr), slog.String("metrics", *metricsAddr))

	if err := eg.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// runTickers drives RetentionTick and ExpiryTick on their own schedule, the
// "periodic scheduled message" the retention-window and expiry-watchdog
// design notes call for rather than a detached thread holding locks across
// suspension points.
func runTickers(ctx context.Context, mod *partition.Module, cfg partition.Config) error {
	retention := time.NewTicker(cfg.RetentionWindow / 4)
	defer retention.Stop()
	heartbeat := time.NewTicker(cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retention.C:
			mod.RetentionTick()
		case <-heartbeat.C:
			mod.ExpiryTick()
		}
	}
}

// singlePartitionSource is the demo's cpo.Source: one partition owns the
// entire key space for its collection. A multi-node deployment would
// replace this with a real control-plane client.
type singlePartitionSource struct {
	collection string
}

func (s singlePartitionSource) Fetch(_ context.Context, collection string) (cpo.Snapshot, error) {
	if collection != s.collection {
		return cpo.Snapshot{}, errors.Newf("partitiond: unknown collection %q", collection)
	}
	return cpo.Snapshot{
		Epoch: 1,
		Partitions: []cpo.PartitionRange{
			{PartitionID: "p0"},
		},
	}, nil
}
