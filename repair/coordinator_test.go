package repair

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sectorcrc/backupblob"
	"sectorcrc/blockdev"
	"sectorcrc/checksum"
	"sectorcrc/ledger"
)

const ss = 512

func image(t *testing.T, name string, sectors int, fill byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, bytes.Repeat([]byte{fill}, sectors*ss), 0o644))
	return p
}

func corrupt(t *testing.T, path string, sector int) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, int64(sector*ss+17))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func readSector(t *testing.T, path string, sector int) []byte {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return raw[sector*ss : (sector+1)*ss]
}

var zeroCRC = checksum.Sum(make([]byte, ss))

func TestRepairFromBackupDevice(t *testing.T) {
	target := image(t, "target.img", 8, 0)
	backup := image(t, "backup.img", 8, 0)
	corrupt(t, target, 3)

	chain, err := BuildChain(Options{BackupDevice: backup, SectorSize: ss})
	require.NoError(t, err)
	defer chain.Close()

	dev := blockdev.New(target, ss, blockdev.ReadWrite)
	defer dev.Close()
	c := NewCoordinator(dev, chain)

	out, err := c.RepairSector(3, zeroCRC)
	require.NoError(t, err)
	assert.Equal(t, Repaired, out)
	assert.NoError(t, out.Err())
	assert.Equal(t, make([]byte, ss), readSector(t, target, 3))
	assert.Equal(t, Summary{Attempted: 1, Repaired: 1}, c.Summary())
}

func TestRepairRefusesCorruptCandidate(t *testing.T) {
	target := image(t, "target.img", 8, 0)
	backup := image(t, "backup.img", 8, 0)
	corrupt(t, target, 3)
	corrupt(t, backup, 3)
	before := append([]byte(nil), readSector(t, target, 3)...)

	chain, err := BuildChain(Options{BackupDevice: backup, SectorSize: ss})
	require.NoError(t, err)
	defer chain.Close()
	dev := blockdev.New(target, ss, blockdev.ReadWrite)
	defer dev.Close()

	out, err := NewCoordinator(dev, chain).RepairSector(3, zeroCRC)
	require.NoError(t, err)
	assert.Equal(t, AllCandidatesCorrupt, out)
	assert.ErrorIs(t, out.Err(), ErrExhausted)
	assert.Equal(t, before, readSector(t, target, 3), "target untouched")
}

func TestRepairFallsThroughChain(t *testing.T) {
	target := image(t, "target.img", 8, 0)
	backup := image(t, "backup.img", 8, 0)
	corrupt(t, target, 5)
	corrupt(t, backup, 5)

	blobPath := filepath.Join(t.TempDir(), "sectors.blob")
	require.NoError(t, backupblob.Append(blobPath, 5, make([]byte, ss)))

	chain, err := BuildChain(Options{BackupDevice: backup, BackupBlob: blobPath, SectorSize: ss})
	require.NoError(t, err)
	defer chain.Close()
	require.Len(t, chain, 2)
	assert.Contains(t, chain[0].Name(), "device")
	assert.Contains(t, chain[1].Name(), "blob")

	dev := blockdev.New(target, ss, blockdev.ReadWrite)
	defer dev.Close()
	out, err := NewCoordinator(dev, chain).RepairSector(5, zeroCRC)
	require.NoError(t, err)
	assert.Equal(t, Repaired, out)
	assert.Equal(t, make([]byte, ss), readSector(t, target, 5))
}

func TestAlternateLedgerDisagreementRefuses(t *testing.T) {
	target := image(t, "target.img", 4, 0)
	alt := image(t, "alt.img", 4, 0)
	corrupt(t, target, 1)

	altLedger := &ledger.Ledger{
		Header:  ledger.Header{Magic: ledger.Magic, SectorCount: 1},
		Records: []ledger.SectorChecksum{{Sector: 1, CRC: zeroCRC ^ 1}},
	}
	chain, err := BuildChain(Options{AlternateDevice: alt, AlternateLedger: altLedger, SectorSize: ss})
	require.NoError(t, err)
	defer chain.Close()
	dev := blockdev.New(target, ss, blockdev.ReadWrite)
	defer dev.Close()

	out, err := NewCoordinator(dev, chain).RepairSector(1, zeroCRC)
	require.NoError(t, err)
	assert.Equal(t, NoSource, out, "refused by its own ledger")

	agreeing := &ledger.Ledger{Records: []ledger.SectorChecksum{{Sector: 1, CRC: zeroCRC}}}
	chain2 := Chain{NewAlternateSource(alt, ss, agreeing)}
	defer chain2.Close()
	out, err = NewCoordinator(dev, chain2).RepairSector(1, zeroCRC)
	require.NoError(t, err)
	assert.Equal(t, Repaired, out)
}

func TestNoSourceAndDryRun(t *testing.T) {
	target := image(t, "target.img", 4, 0)
	corrupt(t, target, 2)
	dev := blockdev.New(target, ss, blockdev.ReadWrite)
	defer dev.Close()

	out, err := NewCoordinator(dev, nil).RepairSector(2, zeroCRC)
	require.NoError(t, err)
	assert.Equal(t, NoSource, out)

	backup := image(t, "backup.img", 4, 0)
	chain := Chain{NewDeviceSource(backup, ss)}
	defer chain.Close()
	before := append([]byte(nil), readSector(t, target, 2)...)
	out, err = NewCoordinator(dev, chain, WithDryRun(true)).RepairSector(2, zeroCRC)
	require.NoError(t, err)
	assert.Equal(t, DryRun, out)
	assert.Equal(t, before, readSector(t, target, 2))
}

func TestUnavailableSourceIsSkipped(t *testing.T) {
	target := image(t, "target.img", 4, 0)
	corrupt(t, target, 0)
	chain := Chain{
		NewDeviceSource(filepath.Join(t.TempDir(), "missing.img"), ss),
		NewDeviceSource(image(t, "good.img", 4, 0), ss),
	}
	defer chain.Close()
	dev := blockdev.New(target, ss, blockdev.ReadWrite)
	defer dev.Close()

	out, err := NewCoordinator(dev, chain).RepairSector(0, zeroCRC)
	require.NoError(t, err)
	assert.Equal(t, Repaired, out)
}

func TestReadOnlyTargetIsFatal(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses file permissions")
	}
	target := image(t, "target.img", 4, 0)
	corrupt(t, target, 0)
	require.NoError(t, os.Chmod(target, 0o444))

	chain := Chain{NewDeviceSource(image(t, "good.img", 4, 0), ss)}
	defer chain.Close()
	dev := blockdev.New(target, ss, blockdev.ReadWrite)
	defer dev.Close()

	_, err := NewCoordinator(dev, chain).RepairSector(0, zeroCRC)
	require.Error(t, err)
	assert.ErrorIs(t, err, blockdev.AccessDenied)
}

// recordingTarget logs the calls reaching the device and can fail Sync.
type recordingTarget struct {
	*blockdev.Device
	calls   []string
	syncErr error
}

func (r *recordingTarget) WriteAt(sector uint64, data []byte) error {
	r.calls = append(r.calls, "write")
	return r.Device.WriteAt(sector, data)
}

func (r *recordingTarget) ReadAt(sector uint64) ([]byte, error) {
	r.calls = append(r.calls, "read")
	return r.Device.ReadAt(sector)
}

func (r *recordingTarget) Sync() error {
	r.calls = append(r.calls, "sync")
	if r.syncErr != nil {
		return r.syncErr
	}
	return r.Device.Sync()
}

func TestRepairSyncsBeforeReadBack(t *testing.T) {
	syncFailure := func(k blockdev.Kind) error {
		return &blockdev.DeviceError{Op: "sync", Path: "target.img", Kind: k, Code: -1, Err: errors.New("flush rejected")}
	}
	tests := []struct {
		name    string
		syncErr error
		want    Outcome
		fatal   bool
		calls   []string
	}{
		{name: "ok", want: Repaired, calls: []string{"write", "sync", "read"}},
		{name: "io error", syncErr: syncFailure(blockdev.Other), want: WriteUnverified, calls: []string{"write", "sync"}},
		{name: "access denied", syncErr: syncFailure(blockdev.AccessDenied), want: WriteUnverified, fatal: true, calls: []string{"write", "sync"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := image(t, "target.img", 8, 0)
			backup := image(t, "backup.img", 8, 0)
			corrupt(t, target, 2)

			chain, err := BuildChain(Options{BackupDevice: backup, SectorSize: ss})
			require.NoError(t, err)
			defer chain.Close()
			dev := blockdev.New(target, ss, blockdev.ReadWrite)
			defer dev.Close()
			rt := &recordingTarget{Device: dev, syncErr: tt.syncErr}

			out, err := NewCoordinator(rt, chain).RepairSector(2, zeroCRC)
			assert.Equal(t, tt.want, out)
			assert.Equal(t, tt.calls, rt.calls)
			if tt.fatal {
				assert.ErrorIs(t, err, blockdev.AccessDenied)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
