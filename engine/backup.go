package engine

import (
	"context"
	"fmt"

	"sectorcrc/backupblob"
	"sectorcrc/blockdev"
	"sectorcrc/cancel"
)

// Backup copies the listed sectors of the device into the blob at blobPath,
// appending to an existing blob. A later Repair can use the blob as a source.
func (e *Engine) Backup(ctx context.Context, sectors []uint64, blobPath string) (*Result, error) {
	return e.run(ctx, "backup", uint64(len(sectors)), func(tok *cancel.Token, r *tally) error {
		dev := blockdev.New(e.path, e.cfg.SectorSize, blockdev.ReadOnly)
		defer dev.Close()

		w, err := backupblob.Create(blobPath, e.cfg.SectorSize)
		if err != nil {
			return err
		}
		defer w.Close()

		buf := make([]byte, e.cfg.SectorSize)
		for _, s := range sectors {
			if tok.Cancelled() {
				return cancel.ErrCancelled
			}
			if err := dev.ReadInto(s, buf); err != nil {
				return fmt.Errorf("backup: %w", err)
			}
			if err := w.Add(s, buf); err != nil {
				return err
			}
			r.checked(s)
			r.done(1)
		}
		return w.Close()
	})
}
