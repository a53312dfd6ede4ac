// sectorcrc computes, verifies and repairs per-sector CRC-32 checksums of
// block devices and disk images.
//
// Build:
//
//	go build -o sectorcrc .
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sectorcrc/blockdev"
	"sectorcrc/cancel"
	"sectorcrc/engine"
	"sectorcrc/scanui"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitCorrupt   = 2
	exitCancelled = 130
)

// exitError carries a non-default exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, cancel.ErrCancelled) {
		return exitCancelled
	}
	return exitFailure
}

// engineFlags are the persistent flags that shape the engine Config.
type engineFlags struct {
	configPath string
	sectorSize int
	mode       string
	readers    int
	processors int
	verify     int
	batch      int
	sortLedger bool
}

func (f *engineFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "YAML engine profile")
	fs.IntVar(&f.sectorSize, "sector-size", blockdev.DefaultSectorSize, "sector size in bytes (512, 2048, 4096)")
	fs.StringVar(&f.mode, "mode", string(engine.Sequential), "sequential|parallel")
	fs.IntVar(&f.readers, "readers", 1, "reader goroutines (parallel generate)")
	fs.IntVar(&f.processors, "processors", 0, "CRC goroutines (parallel generate), 0 = NumCPU - readers")
	fs.IntVar(&f.verify, "verify-threads", 0, "workers for parallel verify/repair, 0 = NumCPU")
	fs.IntVar(&f.batch, "batch", 64, "sectors per reader read")
	fs.BoolVar(&f.sortLedger, "sort", false, "write ledger records in sector order")
}

// config starts from the profile (or defaults) and applies only the flags
// the user set explicitly.
func (f *engineFlags) config(fs *pflag.FlagSet) (engine.Config, error) {
	cfg := engine.DefaultConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = engine.LoadConfig(f.configPath); err != nil {
			return engine.Config{}, err
		}
	}
	fs.Visit(func(fl *pflag.Flag) {
		switch fl.Name {
		case "sector-size":
			cfg.SectorSize = f.sectorSize
		case "mode":
			cfg.Mode = engine.Mode(f.mode)
		case "readers":
			cfg.ReaderThreads = f.readers
		case "processors":
			cfg.ProcessorThreads = f.processors
		case "verify-threads":
			cfg.VerifyThreads = f.verify
		case "batch":
			cfg.BatchSize = f.batch
		case "sort":
			cfg.SortLedger = f.sortLedger
		}
	})
	return cfg, cfg.Validate()
}

// app holds state shared by all commands of one invocation.
type app struct {
	flags   engineFlags
	verbose bool
	useUI   bool
	logFile string

	logger *zap.Logger
	stdout io.Writer
	stderr io.Writer
}

func (a *app) initLogger() error {
	if a.useUI && a.logFile == "" {
		a.logger = zap.NewNop()
		return nil
	}
	config := zap.NewProductionConfig()
	if a.verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if a.logFile != "" {
		config.OutputPaths = []string{a.logFile}
	}
	var err error
	a.logger, err = config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop(), stdout: os.Stdout, stderr: os.Stderr}
	root := &cobra.Command{
		Use:           "sectorcrc",
		Short:         "Per-sector CRC-32 integrity ledger for disks and images",
		Long:          "Generate a checksum ledger for a sector range, verify a device against it later, and repair corrupted sectors from a backup source.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.stdout = cmd.OutOrStdout()
			a.stderr = cmd.ErrOrStderr()
			return a.initLogger()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	pf := root.PersistentFlags()
	a.flags.bind(pf)
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	pf.BoolVar(&a.useUI, "ui", false, "full-screen sector map")
	pf.StringVar(&a.logFile, "log-file", "", "write logs to this file instead of stderr")

	root.AddCommand(
		a.generateCmd(),
		a.verifyCmd(),
		a.repairCmd(),
		a.backupCmd(),
		a.validateCmd(),
		a.infoCmd(),
		a.configCmd(),
		a.deviceCmd(),
	)
	return root
}

// session is one engine operation with its progress wiring.
type session struct {
	a   *app
	e   *engine.Engine
	ui  *scanui.UI
	mon *scanui.Monitor
	op  string
}

// newSession builds the engine for device and, with --ui, the sector map.
func (a *app) newSession(cmd *cobra.Command, op, device string, start, total uint64) (*session, error) {
	cfg, err := a.flags.config(cmd.Flags())
	if err != nil {
		return nil, err
	}
	s := &session{a: a, op: op}
	opts := []engine.Option{engine.WithLogger(a.logger)}

	if a.useUI {
		s.ui, err = scanui.NewUI()
		if err != nil {
			return nil, fmt.Errorf("start UI: %w", err)
		}
		s.mon = scanui.NewMonitor(s.ui, op, device, string(cfg.Mode), start, total, cfg.SectorSize)
		opts = append(opts, engine.WithProgress(s.mon.Progress),
			engine.WithChecked(s.mon.Checked), engine.WithMismatch(s.mon.Mismatch))
	} else {
		opts = append(opts, engine.WithProgress(func(p, t uint64) {
			fmt.Fprintf(a.stderr, "\r%s: %d / %d sectors", op, p, t)
		}))
	}

	s.e, err = engine.New(device, cfg, opts...)
	if err != nil {
		s.close(nil)
		return nil, err
	}
	return s, nil
}

// run executes fn with SIGINT/SIGTERM and the UI stop keys forwarded to the
// engine.
func (s *session) run(fn func(ctx context.Context, e *engine.Engine) (*engine.Result, error)) (*engine.Result, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	defer close(done)
	if s.ui != nil {
		go func() {
			select {
			case <-s.ui.Stopped():
				s.e.Cancel()
			case <-done:
			}
		}()
	}

	res, err := fn(ctx, s.e)
	s.close(res)
	return res, err
}

func (s *session) close(res *engine.Result) {
	if s.ui == nil {
		if res != nil {
			fmt.Fprintln(s.a.stderr)
		}
		return
	}
	if s.mon != nil && res != nil {
		s.mon.Finish(res.Repaired, res.Status.String())
	}
	s.ui.Close()
}

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(exitCode(err))
}
