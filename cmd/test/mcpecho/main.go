package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/monitoring"

	"github.com/gin-gonic/gin"
	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Port        int    `long:"port" default:"8080" description:"port to serve /health and the info endpoint on"`
	Name        string `long:"name" default:"mcpecho" description:"service name reported by the info endpoint"`
	Type        string `long:"type" default:"custom" description:"service type reported by the info endpoint"`
	UnhealthyAt int    `long:"unhealthy-after" description:"seconds after which /health starts failing (debug feature)"`
	CrashAt     int    `long:"crash-after" description:"seconds after which the process exits with code 3 (debug feature)"`
	RunDuration int    `long:"run-duration" description:"duration in seconds to run (debug feature)"`
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

	fmt.Printf("Running MCP echo, opts: %+v...\n", opts)

	ctx := context.Background()
	if opts.RunDuration > 0 {
		fmt.Printf("Using RUN DURATION of %d seconds\n", opts.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	started := time.Now()
	var healthy atomic.Bool
	healthy.Store(true)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/health", func(c *gin.Context) {
		if !healthy.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "uptime": time.Since(started).String()})
	})
	r.GET(monitoring.InfoPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, monitoring.DiscoveredService{Name: opts.Name, Type: opts.Type, Version: "test"})
	})

	server := &http.Server{Addr: fmt.Sprintf(":%d", opts.Port), Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("MCP echo failed to listen: %v\n", err)
			os.Exit(2)
		}
	}()

	// Enable signal handling
	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	var unhealthy, crash <-chan time.Time
	if opts.UnhealthyAt > 0 {
		unhealthy = time.After(time.Duration(opts.UnhealthyAt) * time.Second)
	}
	if opts.CrashAt > 0 {
		crash = time.After(time.Duration(opts.CrashAt) * time.Second)
	}

	fmt.Printf("MCP echo is ready, port: %d\n", opts.Port)

	for running := true; running; {
		select {
		case <-unhealthy:
			fmt.Printf("MCP echo is now unhealthy\n")
			healthy.Store(false)
			unhealthy = nil
		case <-crash:
			fmt.Printf("MCP echo crashing\n")
			os.Exit(3)
		case receivedSignal := <-sig:
			fmt.Printf("MCP echo received signal: %v\n", receivedSignal)
			running = false
		case <-ctx.Done():
			fmt.Printf("MCP echo timed out\n")
			running = false
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	fmt.Printf("MCP echo stopped\n")
}
