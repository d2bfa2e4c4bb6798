// Command telemetry runs one-shot printer fleet telemetry operations for an
// external scheduler: probe, poll, identify, collect, refill and compact.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"printmaster/telemetry/collector"
	"printmaster/telemetry/common/config"
	"printmaster/telemetry/common/logger"
	commonstorage "printmaster/telemetry/common/storage"
	"printmaster/telemetry/common/util"
	"printmaster/telemetry/engine"
	"printmaster/telemetry/sink"
	"printmaster/telemetry/storage"
)

const usage = `Usage: telemetry [flags] <command> [args]

Commands:
  probe <ip|device-id>              test reachability on the management ports
  poll <ip|device-id>               read page counters over SNMP
  identify <ip|device-id>           resolve serial and colour capability
  collect [device-id ...]           run a batch collection (all active devices when none given)
  refill <device-id> <tray> <units> record a manual tray refill
  lock <device-id> <YYYY-MM>        close a device's period to collection
  compact                           thin tray snapshots past the retention horizon

Flags:
`

func main() {
	configPath := flag.String("config", "config.toml", "Configuration file path")
	generateConfig := flag.Bool("generate-config", false, "Generate default config file and exit")
	period := flag.String("period", "", "Collection period (YYYY-MM), defaults to the current month")
	manual := flag.Bool("manual", false, "Tag collected samples as manual")
	quiet := flag.Bool("quiet", false, "Suppress informational log output (errors/warnings still shown)")
	flag.BoolVar(quiet, "q", false, "Shorthand for --quiet")
	silent := flag.Bool("silent", false, "Suppress ALL status output (command results are still printed)")
	flag.BoolVar(silent, "s", false, "Shorthand for --silent")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *silent {
		util.SetSilentMode(true)
	} else {
		util.SetQuietMode(*quiet)
	}

	path := config.ResolveConfigPath(envPrefix, *configPath)

	if *generateConfig {
		if err := WriteDefaultConfig(path); err != nil {
			util.ShowError(fmt.Sprintf("Failed to generate config: %v", err))
			os.Exit(1)
		}
		util.ShowSuccess(fmt.Sprintf("Generated default configuration at %s", path))
		return
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		util.ShowError(fmt.Sprintf("Failed to load config: %v", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := runOptions{period: *period, manual: *manual, quiet: *quiet, silent: *silent}
	if err := run(ctx, cfg, flag.Arg(0), flag.Args()[1:], opts); err != nil {
		util.ShowError(fmt.Sprintf("%s: %v", flag.Arg(0), err))
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the file when one exists and otherwise runs on defaults
// plus environment overrides.
func loadConfig(path string) (*TelemetryConfig, error) {
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if found, _, ferr := config.FindConfigFile("config.toml"); ferr == nil && found != "" {
			return LoadConfig(found)
		}
		cfg := DefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	return LoadConfig(path)
}

type runOptions struct {
	period string
	manual bool
	quiet  bool
	silent bool
}

func run(ctx context.Context, cfg *TelemetryConfig, cmd string, args []string, opts runOptions) error {
	appLogger := newLogger(cfg, opts.quiet, opts.silent)
	defer appLogger.Close()
	logger.Global = appLogger
	storage.SetLogger(appLogger)

	store, err := storage.NewStore(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	var engineOpts []engine.Option
	if cmd == "collect" {
		if out := buildSinks(ctx, cfg); len(out) > 0 {
			defer out.Close()
			engineOpts = append(engineOpts, engine.WithSink(out))
		}
	}

	eng, err := engine.New(cfg.EngineConfig(), store, cfg.Credentials(), engineOpts...)
	if err != nil {
		return err
	}

	switch cmd {
	case "probe":
		device, err := target(ctx, store, args)
		if err != nil {
			return err
		}
		return printJSON(eng.TestConnectivity(ctx, device))

	case "poll":
		device, err := target(ctx, store, args)
		if err != nil {
			return err
		}
		res, err := eng.PollOne(ctx, device)
		if res != nil {
			if perr := printJSON(res); perr != nil {
				return perr
			}
		}
		return err

	case "identify":
		device, err := target(ctx, store, args)
		if err != nil {
			return err
		}
		res, err := eng.ResolveIdentity(ctx, device)
		if err != nil {
			return err
		}
		return printJSON(res)

	case "collect":
		sel, err := selection(args)
		if err != nil {
			return err
		}
		runOpts := collector.Options{}
		if opts.manual {
			runOpts.Method = commonstorage.MethodManual
		}
		report, err := eng.CollectBatchWith(ctx, sel, opts.period, runOpts)
		if report != nil {
			util.ShowInfo(fmt.Sprintf("Batch %s: %d processed, %d succeeded, %d failed (%d locked)",
				report.BatchID, report.Processed, report.Succeeded, report.Failed, report.Skipped))
			if perr := printJSON(report); perr != nil {
				return perr
			}
		}
		return err

	case "refill":
		if len(args) != 3 {
			return errors.New("usage: refill <device-id> <tray> <units>")
		}
		nums, err := atoiAll(args)
		if err != nil {
			return err
		}
		refill, err := eng.RecordManualRefill(ctx, int64(nums[0]), nums[1], nums[2])
		if err != nil {
			return err
		}
		return printJSON(refill)

	case "lock":
		if len(args) != 2 {
			return errors.New("usage: lock <device-id> <YYYY-MM>")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid device id %q", args[0])
		}
		if _, err := time.Parse("2006-01", args[1]); err != nil {
			return fmt.Errorf("invalid period %q", args[1])
		}
		n, err := eng.LockPeriod(ctx, id, args[1])
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{"device_id": id, "period": args[1], "locked_samples": n})

	case "compact":
		removed, err := eng.CompactHistory(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{"removed_snapshots": removed, "retention_days": cfg.Trays.RetentionDays})
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func newLogger(cfg *TelemetryConfig, quiet, silent bool) *logger.Logger {
	logDir := cfg.Logging.Dir
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			util.ShowWarning(fmt.Sprintf("Log directory unavailable, logging to console only: %v", err))
			logDir = ""
		}
	}
	level := logger.LevelFromString(cfg.Logging.Level)
	if quiet && level > logger.WARN {
		level = logger.WARN
	}
	l := logger.New(level, logDir)
	l.SetRotationPolicy(logger.RotationPolicy{
		Enabled:    cfg.Logging.MaxSizeMB > 0,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		MaxFiles:   cfg.Logging.MaxFiles,
	})
	l.SetConsoleWriter(os.Stderr)
	l.SetConsoleOutput(!silent)
	return l
}

// buildSinks connects the configured sinks. A sink that cannot connect is
// skipped so collection still runs.
func buildSinks(ctx context.Context, cfg *TelemetryConfig) sink.Multi {
	var out sink.Multi
	if cfg.NATS.Enabled {
		pub, err := sink.NewNATSPublisher(ctx, cfg.NATS)
		if err != nil {
			util.ShowWarning(fmt.Sprintf("NATS sink disabled: %v", err))
			logger.Global.Warn("NATS sink disabled", "url", cfg.NATS.URL, "error", err.Error())
		} else {
			out = append(out, pub)
		}
	}
	if cfg.MQTT.Enabled {
		pub, err := sink.NewMQTTPublisher(cfg.MQTT)
		if err != nil {
			util.ShowWarning(fmt.Sprintf("MQTT sink disabled: %v", err))
			logger.Global.Warn("MQTT sink disabled", "broker", cfg.MQTT.Broker, "error", err.Error())
		} else {
			out = append(out, pub)
		}
	}
	if cfg.Influx.Enabled {
		w, err := sink.NewInfluxWriter(ctx, cfg.Influx)
		if err != nil {
			util.ShowWarning(fmt.Sprintf("InfluxDB sink disabled: %v", err))
			logger.Global.Warn("InfluxDB sink disabled", "url", cfg.Influx.URL, "error", err.Error())
		} else {
			out = append(out, w)
		}
	}
	return out
}

// target resolves a command argument to a device: a numeric registry ID
// or a bare address.
func target(ctx context.Context, store *storage.Store, args []string) (*commonstorage.Device, error) {
	if len(args) != 1 {
		return nil, errors.New("expected one <ip|device-id> argument")
	}
	if id, err := strconv.ParseInt(args[0], 10, 64); err == nil {
		return store.GetDevice(ctx, id)
	}
	return &commonstorage.Device{IP: strings.TrimSpace(args[0])}, nil
}

func selection(args []string) (commonstorage.Selection, error) {
	var sel commonstorage.Selection
	for _, a := range args {
		for _, part := range strings.Split(a, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return sel, fmt.Errorf("invalid device id %q", part)
			}
			sel.DeviceIDs = append(sel.DeviceIDs, id)
		}
	}
	return sel, nil
}

func atoiAll(args []string) ([]int, error) {
	out := make([]int, len(args))
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", a)
		}
		out[i] = n
	}
	return out, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
