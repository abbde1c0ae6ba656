package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/control"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"
	"github.com/core-tools/hsu-mcp-master/pkg/master"
	"github.com/core-tools/hsu-mcp-master/pkg/metrics"
	"github.com/core-tools/hsu-mcp-master/pkg/processfile"
	"github.com/core-tools/hsu-mcp-master/pkg/stats"

	flags "github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

var version = "dev"

const pidFileName = "mcp-master"

type flagOptions struct {
	DataDir       string `long:"data-dir" description:"base directory for configuration, backups, logs and state"`
	Scenario      string `long:"scenario" default:"user" description:"directory layout: user, system, session or development"`
	Environment   string `long:"env" description:"environment: development, staging, testing or production"`
	Template      string `long:"template" description:"template used when no configuration exists"`
	HTTPPort      int    `long:"http-port" default:"9090" description:"dashboard API port, 0 disables it"`
	GRPCPort      int    `long:"grpc-port" default:"9091" description:"gRPC health port, 0 disables it"`
	DeployOnStart bool   `long:"deploy" description:"deploy before monitoring"`
	Watch         bool   `long:"watch" description:"reload the configuration when the file changes"`
	Discovery     bool   `long:"discovery" description:"periodically scan for unregistered MCP services"`
	MCPStdio      bool   `long:"mcp-stdio" description:"serve the operations as MCP tools over stdin/stdout"`
	RunDuration   int    `long:"run-duration" description:"duration in seconds to run the master (debug feature)"`

	Log logging.ZapConfig `group:"Logging Options"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	layoutConfig := processfile.GetRecommendedProcessFileConfig(opts.Scenario, processfile.DefaultAppName)
	if opts.DataDir != "" {
		layoutConfig.BaseDirectory = opts.DataDir
	}
	layout := processfile.NewProcessFileManager(layoutConfig, nil)
	if err := layout.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to prepare directories: %v\n", err)
		os.Exit(1)
	}

	// stdout belongs to the MCP transport in stdio mode
	if opts.MCPStdio && (opts.Log.Output == "" || opts.Log.Output == "stdout") {
		opts.Log.Output = layout.LogFilePath()
	}
	zapLogger, err := logging.NewZapLogger(opts.Log)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	logger := logging.WithPrefix(zapLogger, "mastersrv")
	logger.Infof("Starting, version: %s, data: %s, opts: %+v", version, layout.DataDirectory(), opts)

	if err := run(opts, layout, zapLogger); err != nil {
		logger.Errorf("Master stopped with error: %v", err)
		os.Exit(1)
	}
	logger.Infof("Master stopped")
}

func run(opts flagOptions, layout *processfile.ProcessFileManager, logger logging.Logger) error {
	statsStore, err := stats.Open(layout.StatsFilePath())
	if err != nil {
		return err
	}
	defer statsStore.Close()

	masterMetrics := metrics.New()

	cfg := master.ConfigFromLayout(layout)
	cfg.Environment = opts.Environment
	cfg.Template = opts.Template

	m, err := master.NewMaster(cfg, master.Dependencies{
		Stats:   statsStore,
		Metrics: masterMetrics,
	}, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := layout.WritePIDFile(pidFileName, os.Getpid()); err != nil {
		logger.Warnf("Failed to write PID file: %v", err)
	}
	defer layout.RemovePIDFile(pidFileName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if opts.RunDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}
	go waitForSignal(ctx, cancel, logger)

	g, ctx := errgroup.WithContext(ctx)

	runOptions := master.RunOptions{
		DeployOnStart: opts.DeployOnStart,
		WatchConfig:   opts.Watch,
		Discovery:     opts.Discovery,
	}

	if opts.GRPCPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", opts.GRPCPort))
		if err != nil {
			return err
		}
		grpcServer := grpc.NewServer()
		health := control.RegisterGRPCServerHandler(grpcServer, m, logging.WithPrefix(logger, "grpc"))
		runOptions.Listener = health.Listener()

		g.Go(func() error {
			logger.Infof("gRPC health server listening, port: %d", opts.GRPCPort)
			return grpcServer.Serve(lis)
		})
		g.Go(func() error {
			<-ctx.Done()
			health.Shutdown()
			grpcServer.GracefulStop()
			return nil
		})
	}

	if opts.HTTPPort > 0 {
		httpServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", opts.HTTPPort),
			Handler:           control.NewRouter(m, masterMetrics, logging.WithPrefix(logger, "http")),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Infof("Dashboard API listening, port: %d", opts.HTTPPort)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if opts.MCPStdio {
		mcpServer := control.NewMCPServer(m, version, logging.WithPrefix(logger, "mcp"))
		g.Go(func() error {
			// stdin closing ends the session and the master with it
			defer cancel()
			return control.ServeStdio(ctx, mcpServer)
		})
	}

	g.Go(func() error {
		return m.Run(ctx, runOptions)
	})

	return g.Wait()
}

func waitForSignal(ctx context.Context, cancel context.CancelFunc, logger logging.Logger) {
	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	select {
	case receivedSignal := <-sig:
		logger.Infof("Received signal, shutting down, signal: %v", receivedSignal)
		cancel()
	case <-ctx.Done():
	}
}
