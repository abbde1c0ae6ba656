package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/core-tools/hsu-mcp-master/pkg/logging"
	"github.com/core-tools/hsu-mcp-master/pkg/master"
	"github.com/core-tools/hsu-mcp-master/pkg/processfile"
	"github.com/core-tools/hsu-mcp-master/pkg/stats"

	flags "github.com/jessevdk/go-flags"
)

type globalOptions struct {
	DataDir  string `long:"data-dir" description:"base directory for configuration, backups, logs and state"`
	Scenario string `long:"scenario" default:"user" description:"directory layout: user, system, session or development"`
	JSON     bool   `long:"json" description:"print results as JSON"`
	Quiet    bool   `short:"q" long:"quiet" description:"no progress spinner"`

	Log logging.ZapConfig `group:"Logging Options"`
}

var opts globalOptions

var parser = flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)

func main() {
	addCommands(parser)

	_, err := parser.ParseArgs(os.Args[1:])
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// session is a local Master over the same files the daemon uses; the
// operation lock serializes the two.
type session struct {
	master *master.Master
	stats  *stats.Store
	logger *logging.ZapLogger
}

func openSession() (*session, error) {
	layoutConfig := processfile.GetRecommendedProcessFileConfig(opts.Scenario, processfile.DefaultAppName)
	if opts.DataDir != "" {
		layoutConfig.BaseDirectory = opts.DataDir
	}

	logConfig := opts.Log
	if logConfig.Output == "stdout" {
		logConfig.Output = "stderr"
	}
	logger, err := logging.NewZapLogger(logConfig)
	if err != nil {
		return nil, err
	}

	layout := processfile.NewProcessFileManager(layoutConfig, logger)
	if err := layout.EnsureDirectories(); err != nil {
		return nil, err
	}

	statsStore, err := stats.Open(layout.StatsFilePath())
	if err != nil {
		logger.Warnf("Statistics are unavailable, path: %s, error: %v", layout.StatsFilePath(), err)
		statsStore = nil
	}

	m, err := master.NewMaster(master.ConfigFromLayout(layout), master.Dependencies{Stats: statsStore}, logger)
	if err != nil {
		if statsStore != nil {
			statsStore.Close()
		}
		return nil, err
	}
	return &session{master: m, stats: statsStore, logger: logger}, nil
}

func (s *session) Close() {
	s.master.Close()
	if s.stats != nil {
		s.stats.Close()
	}
	s.logger.Sync()
}

// withSession opens a session, runs fn and closes it
func withSession(fn func(s *session) error) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func printJSON(value interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
