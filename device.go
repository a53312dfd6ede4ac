package main

import (
	"fmt"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"sectorcrc/blockdev"
)

func sizeString(n int64) string {
	if n < 0 {
		return "?"
	}
	return humanize.IBytes(uint64(n))
}

// deviceCmd is read-only: it never opens a device for writing.
func (a *app) deviceCmd() *cobra.Command {
	deviceCmd := &cobra.Command{
		Use:   "device",
		Short: "Device related utilities (safe, read-only)",
	}

	var listAll bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List block devices with their logical sector size",
		RunE: func(_ *cobra.Command, _ []string) error {
			cands, err := blockdev.Discover()
			if err != nil {
				return err
			}
			mounts := blockdev.Mounts()
			w := a.stdout
			fmt.Fprintf(w, "OS: %s\n\n", runtime.GOOS)
			fmt.Fprintf(w, "  %-20s  %-8s  %-10s  %-10s  %s\n", "Path", "Sector", "Size", "Kind", "Mounted")
			printed := 0
			for _, c := range cands {
				if !c.Whole && !listAll {
					continue
				}
				kind := "disk"
				switch {
				case c.Reason != "":
					kind = c.Reason
				case c.Removable:
					kind = "removable"
				}
				mnt := ""
				if m, ok := blockdev.MountedAt(c.Path, mounts); ok {
					mnt = m.Point
				}
				fmt.Fprintf(w, "  %-20s  %-8d  %-10s  %-10s  %s\n", c.Path, c.HintOrDefault(), sizeString(c.Size), kind, mnt)
				printed++
			}
			if printed == 0 {
				fmt.Fprintln(w, "  <none detected>")
			}
			if len(mounts) > 0 {
				fmt.Fprintln(w)
				fmt.Fprintln(w, "Mounted volumes:")
				fmt.Fprintf(w, "  %-24s  %-10s  %-20s  %s\n", "Mount", "FS", "Device", "Size")
				for _, m := range mounts {
					fmt.Fprintf(w, "  %-24s  %-10s  %-20s  %s\n", m.Point, m.FSType, m.Device, sizeString(m.Size))
				}
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "Notes:")
			fmt.Fprintln(w, "  - Pass the sector size shown here with --sector-size; it is never guessed.")
			fmt.Fprintln(w, "  - Unmount a device before running repair against it.")
			return nil
		},
	}
	listCmd.Flags().BoolVar(&listAll, "all", false, "include partitions")
	deviceCmd.AddCommand(listCmd)

	var infoPath string
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show size and sector geometry of a device or image",
		RunE: func(_ *cobra.Command, _ []string) error {
			d, err := blockdev.Open(infoPath, blockdev.DefaultSectorSize, blockdev.ReadOnly)
			if err != nil {
				return err
			}
			defer d.Close()
			size, err := d.Size()
			if err != nil {
				return err
			}
			w := a.stdout
			fmt.Fprintln(w, "Device info")
			fmt.Fprintf(w, "  Path:    %s\n", d.Path())
			fmt.Fprintf(w, "  Size:    %s (%d bytes)\n", sizeString(size), size)
			if ls := d.LogicalSectorSize(); ls > 0 {
				fmt.Fprintf(w, "  Logical sector size: %d\n", ls)
			}
			for _, ss := range []int{blockdev.DefaultSectorSize, blockdev.OpticalSectorSize, blockdev.ModernSectorSize} {
				fmt.Fprintf(w, "  Sectors @%-4d: %d\n", ss, size/int64(ss))
			}
			if m, ok := blockdev.MountedAt(infoPath, blockdev.Mounts()); ok {
				fmt.Fprintf(w, "  Mounted: %s (%s)\n", m.Point, m.FSType)
			}
			return nil
		},
	}
	infoCmd.Flags().StringVar(&infoPath, "path", "", "device or image path")
	_ = infoCmd.MarkFlagRequired("path")
	deviceCmd.AddCommand(infoCmd)
	return deviceCmd
}
