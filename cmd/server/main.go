package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/vskvj3/geomys-list/internal/cluster"
	"github.com/vskvj3/geomys-list/internal/core"
	"github.com/vskvj3/geomys-list/internal/metrics"
	"github.com/vskvj3/geomys-list/internal/network"
	"github.com/vskvj3/geomys-list/internal/persistence"
	"github.com/vskvj3/geomys-list/internal/replicate"
	"github.com/vskvj3/geomys-list/internal/utils"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

type options struct {
	Config  string `long:"config" description:"Path to the YAML config file (default ~/.geomys/geomys.yaml)"`
	EnvFile string `long:"env-file" default:".env" description:"Optional env file loaded before GEOMYS_* overrides"`
	NodeID  int    `long:"node_id" description:"Node ID of the current node"`
	Port    int    `long:"port" description:"Client port; replication listens on port+1000"`
	Leader  bool   `long:"bootstrap" description:"Start as the replication leader"`
	Join    string `long:"join" description:"Follow the leader at <ip:port> (its replication address)"`
	Debug   bool   `long:"debug" description:"Log debug output to the console"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	// Ensure only one of `bootstrap` or `join` is set
	if opts.Leader && opts.Join != "" {
		fmt.Fprintln(os.Stderr, "Cannot use both --bootstrap and --join. Choose only one.")
		os.Exit(1)
	}

	config, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading configuration:", err)
		os.Exit(1)
	}

	logger := utils.NewLogger(config.LogFile, config.Debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func loadConfig(opts options) (*utils.Config, error) {
	configPath := opts.Config
	if configPath == "" {
		var err error
		if configPath, err = utils.DefaultConfigPath(); err != nil {
			return nil, err
		}
	}
	config, err := utils.LoadConfig(configPath, opts.EnvFile)
	if err != nil {
		return nil, err
	}

	if opts.NodeID != 0 {
		config.NodeID = opts.NodeID
	}
	if opts.Port != 0 {
		config.InternalPort = opts.Port
		config.ExternalPort = opts.Port + 1000
	}
	if opts.Leader {
		config.Replication = true
		config.IsLeader = true
	}
	if opts.Join != "" {
		config.Replication = true
		config.IsLeader = false
		config.LeaderAddress = opts.Join
	}
	config.Debug = config.Debug || opts.Debug
	return config, nil
}

func run(ctx context.Context, config *utils.Config) error {
	logger := utils.GetLogger()
	logger.Info("Node starting", zap.Int("node_id", config.NodeID), zap.Int("port", config.InternalPort))

	collector := metrics.NewCollector("geomys")
	if config.MetricsPort != 0 {
		go serveMetrics(ctx, config.MetricsPort, collector)
	}

	db := core.NewDatabase()
	handler := core.NewCommandHandler(db)
	handler.Metrics = collector

	members := cluster.NewCluster(config)
	follower := !members.IsLeader()

	// Followers rebuild from the leader, so only the others keep a log
	var log *persistence.Persistence
	if !follower {
		var err error
		log, err = persistence.Open(config.PersistencePath, config.Persistence)
		if err != nil {
			return fmt.Errorf("open command log: %w", err)
		}
		defer log.Close()
		if config.Persistence == utils.BufferedWrite {
			log.StartFlusher(ctx, time.Second)
		}
		handler.Persistence = log
	}

	server := network.NewServer(fmt.Sprintf(":%d", config.InternalPort), handler)
	server.NodeID = members.GetNodeID()

	if config.Replication {
		if follower {
			leader, err := replicate.NewReplicationClient(members.GetLeaderAddress())
			if err != nil {
				return fmt.Errorf("create replication client: %w", err)
			}
			defer leader.Close()
			server.Leader = leader
			// Writes replicated before the sync completes wait for it
			handler.HoldReplicated()
			logger.Info("Following leader", zap.String("leader", members.GetLeaderAddress()))
		} else {
			replicator := replicate.NewReplicator(members)
			defer replicator.Close()
			handler.OnWrite = replicator.ReplicateWrite
			logger.Info("Starting as leader", zap.Int("followers", len(members.GetFollowerNodes())))
		}

		var provider replicate.PersistenceProvider
		if log != nil {
			provider = log
		}
		grpcServer, err := startReplication(config.ExternalPort, replicate.NewReplicationServer(handler, provider))
		if err != nil {
			return err
		}
		defer grpcServer.GracefulStop()
	} else {
		logger.Info("Starting standalone node...")
	}

	var loader network.RequestLoader
	if log != nil {
		loader = log
	}
	if err := server.Restore(ctx, loader); err != nil {
		if follower {
			return fmt.Errorf("sync request failed: %w", err)
		}
		logger.Warn("Could not read from persistence", zap.Error(err))
	}

	db.StartCleanup(ctx, 100*time.Millisecond)
	if err := server.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	return server.Stop()
}

func startReplication(port int, srv *replicate.ReplicationServer) (*grpc.Server, error) {
	logger := utils.GetLogger()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen for replication: %w", err)
	}
	grpcServer := replicate.NewGrpcServer(srv)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server stopped", zap.Error(err))
		}
	}()
	logger.Info("Replication server listening", zap.String("addr", lis.Addr().String()))
	return grpcServer, nil
}

func serveMetrics(ctx context.Context, port int, collector *metrics.Collector) {
	logger := utils.GetLogger()

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server stopped", zap.Error(err))
	}
}
