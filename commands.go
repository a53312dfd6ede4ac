package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"sectorcrc/blockdev"
	"sectorcrc/engine"
	"sectorcrc/ledger"
)

// maxListed caps the sector numbers printed per category.
const maxListed = 20

// maxBackupSectors caps one backup sector list.
const maxBackupSectors = 1 << 20

func (a *app) generateCmd() *cobra.Command {
	var device, out string
	var start, count uint64
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Compute the CRC of a sector range and write a ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.flags.config(cmd.Flags())
			if err != nil {
				return err
			}
			if count == 0 {
				if count, err = sectorsFrom(device, cfg.SectorSize, start); err != nil {
					return err
				}
			}
			a.warnSectorSize(device, cfg.SectorSize)

			s, err := a.newSession(cmd, "generate", device, start, count)
			if err != nil {
				return err
			}
			res, err := s.run(func(ctx context.Context, e *engine.Engine) (*engine.Result, error) {
				return e.Generate(ctx, start, count, out)
			})
			if res != nil {
				fmt.Fprintf(a.stdout, "Generate %s: %d / %d sectors in %s -> %s\n",
					res.Status, res.Processed, res.Total, res.Elapsed.Truncate(time.Millisecond), out)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "device or image path")
	cmd.Flags().StringVar(&out, "out", "", "ledger file to write")
	cmd.Flags().Uint64Var(&start, "start", 0, "first sector")
	cmd.Flags().Uint64Var(&count, "count", 0, "number of sectors, 0 = to the end of the device")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	var device, ledgerPath string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-read every sector in a ledger and compare checksums",
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := ledger.Load(ledgerPath)
			if err != nil {
				return err
			}
			s, err := a.newSession(cmd, "verify", device, l.StartSector, uint64(len(l.Records)))
			if err != nil {
				return err
			}
			res, err := s.run(func(ctx context.Context, e *engine.Engine) (*engine.Result, error) {
				return e.VerifyLedger(ctx, l)
			})
			if res != nil {
				fmt.Fprintf(a.stdout, "Verify %s: %d / %d sectors in %s, %d corrupted\n",
					res.Status, res.Processed, res.Total, res.Elapsed.Truncate(time.Millisecond), len(res.Corrupted))
				printSectors(a.stdout, "corrupted", res.Corrupted)
			}
			if err != nil {
				return err
			}
			if !res.AllValid() {
				return &exitError{code: exitCorrupt, err: fmt.Errorf("%d corrupted sectors", len(res.Corrupted))}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "device or image path")
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "ledger file")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("ledger")
	return cmd
}

func (a *app) repairCmd() *cobra.Command {
	var device, ledgerPath string
	var opts engine.RepairOptions
	var force bool
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Restore corrupted sectors from a backup device, blob or alternate copy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.AlternateLedger != "" && opts.AlternateDevice == "" {
				return fmt.Errorf("--alt-ledger requires --alt-device")
			}
			if !opts.DryRun {
				if m, ok := blockdev.MountedAt(device, blockdev.Mounts()); ok && !force {
					return fmt.Errorf("%s is mounted at %s; unmount it or pass --force", device, m.Point)
				}
			}
			h, err := ledger.LoadHeader(ledgerPath)
			if err != nil {
				return err
			}
			s, err := a.newSession(cmd, "repair", device, h.StartSector, h.SectorCount)
			if err != nil {
				return err
			}
			res, err := s.run(func(ctx context.Context, e *engine.Engine) (*engine.Result, error) {
				return e.Repair(ctx, ledgerPath, opts)
			})
			if res != nil {
				fmt.Fprintf(a.stdout, "Repair %s: %d corrupted, %d repaired, %d unrepaired\n",
					res.Status, len(res.Corrupted), len(res.Repaired), len(res.Unrepaired))
				printSectors(a.stdout, "repaired", res.Repaired)
				printSectors(a.stdout, "unrepaired", res.Unrepaired)
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&device, "device", "", "target device or image")
	f.StringVar(&ledgerPath, "ledger", "", "ledger the target was generated with")
	f.StringVar(&opts.BackupDevice, "backup-device", "", "backup device or image holding good copies")
	f.StringVar(&opts.BackupBlob, "backup-blob", "", "sector blob written by the backup command")
	f.StringVar(&opts.AlternateDevice, "alt-device", "", "alternate device, used only where its own ledger agrees")
	f.StringVar(&opts.AlternateLedger, "alt-ledger", "", "ledger of the alternate device")
	f.BoolVar(&opts.DryRun, "dry-run", false, "find valid candidates without writing")
	f.BoolVar(&force, "force", false, "repair even if the target is mounted")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("ledger")
	return cmd
}

func (a *app) backupCmd() *cobra.Command {
	var device, list, out string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Copy selected sectors into a backup blob",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sectors, err := parseSectors(list)
			if err != nil {
				return err
			}
			s, err := a.newSession(cmd, "backup", device, 0, uint64(len(sectors)))
			if err != nil {
				return err
			}
			res, err := s.run(func(ctx context.Context, e *engine.Engine) (*engine.Result, error) {
				return e.Backup(ctx, sectors, out)
			})
			if res != nil {
				fmt.Fprintf(a.stdout, "Backup %s: %d sectors -> %s\n", res.Status, res.Processed, out)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "device or image path")
	cmd.Flags().StringVar(&list, "sectors", "", "sectors to copy, e.g. 0,63,2048-2055")
	cmd.Flags().StringVar(&out, "out", "", "blob file (appended to)")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("sectors")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (a *app) validateCmd() *cobra.Command {
	var ledgerPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that a ledger file is structurally valid",
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := ledger.Load(ledgerPath); err != nil {
				fmt.Fprintf(a.stdout, "%s: invalid\n", ledgerPath)
				return err
			}
			fmt.Fprintf(a.stdout, "%s: valid\n", ledgerPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "ledger file")
	_ = cmd.MarkFlagRequired("ledger")
	return cmd
}

func (a *app) infoCmd() *cobra.Command {
	var ledgerPath string
	var check bool
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show a ledger's header and, with --check, its sector coverage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := ledger.LoadHeader(ledgerPath)
			if err != nil {
				return err
			}
			cfg, err := a.flags.config(cmd.Flags())
			if err != nil {
				return err
			}
			ss := cfg.SectorSize
			fmt.Fprintln(a.stdout, "Ledger info")
			fmt.Fprintf(a.stdout, "  File:      %s\n", ledgerPath)
			fmt.Fprintf(a.stdout, "  Magic:     0x%08X\n", h.Magic)
			fmt.Fprintf(a.stdout, "  Range:     %d..%d (%d sectors, %s at %d B/sector)\n",
				h.StartSector, h.End(), h.SectorCount, humanize.IBytes(h.SectorCount*uint64(ss)), ss)
			fmt.Fprintf(a.stdout, "  Generated: %s\n", time.Unix(int64(h.Timestamp), 0).UTC().Format(time.RFC3339))
			if !check {
				return nil
			}
			l, err := ledger.Load(ledgerPath)
			if err != nil {
				return err
			}
			if err := l.Coverage(); err != nil {
				fmt.Fprintf(a.stdout, "  Coverage:  FAILED (%v)\n", err)
				return &exitError{code: exitFailure, err: err}
			}
			fmt.Fprintln(a.stdout, "  Coverage:  complete, each sector exactly once")
			return nil
		},
	}
	cmd.Flags().StringVar(&ledgerPath, "ledger", "", "ledger file")
	cmd.Flags().BoolVar(&check, "check", false, "load all records and check coverage")
	_ = cmd.MarkFlagRequired("ledger")
	return cmd
}

func (a *app) configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Engine profile utilities",
	}
	var out string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective engine configuration as a YAML profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.flags.config(cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Save(out); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Wrote %s\n", out)
			return nil
		},
	}
	initCmd.Flags().StringVar(&out, "out", "sectorcrc.yaml", "profile path")
	cfgCmd.AddCommand(initCmd)
	return cfgCmd
}

// sectorsFrom returns the number of sectors from start to the end of device.
func sectorsFrom(device string, sectorSize int, start uint64) (uint64, error) {
	d := blockdev.New(device, sectorSize, blockdev.ReadOnly)
	defer d.Close()
	n, err := d.SectorCount()
	if err != nil {
		return 0, err
	}
	if start >= n {
		return 0, fmt.Errorf("start sector %d is past the end of %s (%d sectors)", start, device, n)
	}
	return n - start, nil
}

func (a *app) warnSectorSize(device string, sectorSize int) {
	d := blockdev.New(device, sectorSize, blockdev.ReadOnly)
	defer d.Close()
	if hint := d.LogicalSectorSize(); hint > 0 && hint != sectorSize {
		fmt.Fprintf(a.stderr, "warning: %s reports %d-byte logical sectors, using %d\n", device, hint, sectorSize)
	}
}

// parseSectors parses "1,5,10-12" into a sector list.
func parseSectors(s string) ([]uint64, error) {
	var out []uint64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		a, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad sector %q", part)
		}
		b := a
		if isRange {
			if b, err = strconv.ParseUint(strings.TrimSpace(hi), 10, 64); err != nil || b < a {
				return nil, fmt.Errorf("bad sector range %q", part)
			}
		}
		if b-a >= uint64(maxBackupSectors-len(out)) {
			return nil, fmt.Errorf("sector list longer than %d sectors", maxBackupSectors)
		}
		for n := a; ; n++ {
			out = append(out, n)
			if n == b {
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no sectors given")
	}
	return out, nil
}

func printSectors(w io.Writer, label string, sectors []uint64) {
	if len(sectors) == 0 {
		return
	}
	shown := sectors
	if len(shown) > maxListed {
		shown = shown[:maxListed]
	}
	strs := make([]string, len(shown))
	for i, s := range shown {
		strs[i] = strconv.FormatUint(s, 10)
	}
	line := "  " + label + ": " + strings.Join(strs, ", ")
	if len(sectors) > maxListed {
		line += fmt.Sprintf(" ... (%d more)", len(sectors)-maxListed)
	}
	fmt.Fprintln(w, line)
}
