package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/retina-node/config-merger/internal/application"
	"github.com/retina-node/config-merger/internal/config"
	"github.com/retina-node/config-merger/internal/logging"
	"github.com/retina-node/config-merger/internal/merger"
)

var newLogger = logging.New

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	exitCode := -1
	kingpinApp := kingpin.New("config-merger", "Merges the default, user and forced configuration layers and writes the merged config and derived outputs")
	kingpinApp.UsageWriter(stdout)
	kingpinApp.ErrorWriter(stderr)
	kingpinApp.Terminate(func(code int) { exitCode = code })

	overrides := &config.CLIOverrides{}
	var seedSet, hardwareSet bool

	overrides.ConfigDir = kingpinApp.Flag("config-dir", "Directory holding default.yml and forced.yml").String()
	overrides.UserConfigPath = kingpinApp.Flag("user-config", "Path of the operator-editable user layer (default <config-dir>/user.yml)").String()
	overrides.OutputDir = kingpinApp.Flag("output-dir", "Directory the merged config and derived outputs are written to").String()
	overrides.OutputName = kingpinApp.Flag("output-name", "File name of the merged config inside the output directory").String()
	overrides.DebugCopyPath = kingpinApp.Flag("debug-copy", "Also write the merged config to this path").String()
	overrides.RulesFile = kingpinApp.Flag("rules", "JSONC file describing the derived outputs").String()
	overrides.ProcRoot = kingpinApp.Flag("proc-root", "Root of the proc filesystem used to read the board serial").String()
	overrides.LogLevel = kingpinApp.Flag("log-level", "Log level (debug, info, warn, error)").String()
	seedUser := kingpinApp.Flag("seed-user", "Create the user layer from the defaults when it does not exist").IsSetByUser(&seedSet).Bool()
	hardwareNodeID := kingpinApp.Flag("hardware-node-id", "Record the Raspberry Pi serial based node id in the user layer").IsSetByUser(&hardwareSet).Bool()

	_, err := kingpinApp.Parse(args)
	if exitCode >= 0 {
		return exitCode
	}
	if err != nil {
		fmt.Fprintf(stderr, "config-merger: %v\n", err)
		return merger.ExitUsage
	}

	if seedSet {
		overrides.SeedUserConfig = seedUser
	}
	if hardwareSet {
		overrides.HardwareNodeID = hardwareNodeID
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		fmt.Fprintf(stderr, "config-merger: failed to load configuration: %v\n", err)
		return merger.ExitUsage
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "config-merger: failed to initialize logger: %v\n", err)
		return merger.ExitUsage
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err == nil {
		_, err = app.Run()
	}
	if err != nil {
		code := merger.ExitCode(err)
		logger.Error("config merge failed", zap.Error(err), zap.Int("exit_code", code))
		fmt.Fprintf(stderr, "config-merger: %v\n", err)
		return code
	}

	return merger.ExitSuccess
}
