package ntfs

import (
	"fmt"

	"github.com/joshuapare/ntfskit/internal/format"
)

// maxClusterBitmapBytes caps the $Bitmap read; a 32-bit cluster space needs
// at most 512 MB of bitmap.
const maxClusterBitmapBytes = 1 << 29

// Mount validates the boot sector and loads the system files in the fixed
// bootstrap order. Each step only depends on the ones before it:
//
//  1. $Volume   — version and dirty flag steer everything later
//  2. $MFTMirr  — sizes the mirror write-back window
//  3. $LogFile  — the replay gate decides rw/ro admission
//  4. $MFT      — record bitmap and table limits
//  5. $BadClus  — retired-cluster accounting
//  6. $Bitmap   — cluster allocator, then the MFT zone
//  7. $AttrDef  — attribute constraint table
//  8. $UpCase   — case folding, deduplicated via the shared registry
//  9. $Secure / $Extend / $Reparse / $ObjId / $Quota on 3.x volumes
// 10. root directory
//
// Any failure unwinds the partial state; no half-mounted Volume escapes.
func Mount(dev Device, opts *MountOptions) (v *Volume, err error) {
	o := opts.withDefaults()
	log := o.Logger

	sector := make([]byte, format.BootSectorSize)
	if _, err := dev.ReadAt(sector, 0); err != nil {
		return nil, fmt.Errorf("mount: read boot sector: %w", err)
	}
	g, err := InitFromBoot(sector, dev.SectorSize(), uint64(dev.Size()), log)
	if err != nil {
		return nil, err
	}

	readOnly := o.ReadOnly || g.ForceReadOnly
	var wdev WritableDevice
	if !readOnly {
		w, ok := dev.(WritableDevice)
		if !ok {
			log.Warn("device is not writable, mounting read-only")
			readOnly = true
		} else {
			wdev = w
		}
	}

	v = &Volume{
		dev:    dev,
		wdev:   wdev,
		g:      g,
		opts:   o,
		log:    log,
		shared: o.Shared,
	}
	// Capture the partial volume locally: the named return v is reset to
	// nil by every `return nil, err`, which would make the unwind a nil
	// dereference instead of a Close.
	partial := v
	ok := false
	defer func() {
		if !ok {
			partial.Close()
		}
	}()

	// The MFT describes itself; everything else resolves through it.
	if v.mft, err = openMFT(dev, g); err != nil {
		return nil, err
	}

	// 1. $Volume.
	if v.volFile, err = v.mft.OpenSys(format.RecVol); err != nil {
		return nil, fmt.Errorf("$Volume: %w", err)
	}
	va, err := v.volFile.Attr(format.AttrVolInfo, "")
	if err != nil || va.IsExt() {
		return nil, fmt.Errorf("$Volume: no volume information: %w", ErrInvalidFormat)
	}
	vi, err := va.ResidentData()
	if err != nil {
		return nil, fmt.Errorf("$Volume: %w: %w", err, ErrInvalidFormat)
	}
	if v.volInfo, err = format.ParseVolumeInfo(vi); err != nil {
		return nil, fmt.Errorf("$Volume: %w: %w", err, ErrInvalidFormat)
	}
	v.loadLabel()

	// 2. $MFTMirr sizes the write-back window: whole clusters, in records.
	if v.mirror, err = v.mft.OpenSys(format.RecMirr); err != nil {
		return nil, fmt.Errorf("$MFTMirr: %w", err)
	}
	up := (v.mirror.Size() + v.g.ClusterMask) &^ v.g.ClusterMask
	v.recsMirr = up >> g.RecordBits
	if v.recsMirr == 0 || len(v.mirror.runs) == 0 {
		return nil, fmt.Errorf("$MFTMirr: empty mirror: %w", ErrInvalidFormat)
	}

	// 3. $LogFile, then the admission gate. The order matters: an
	// unreplayed journal outranks the dirty flag, and force only ever
	// overrides the flag.
	if v.logFile, err = v.mft.OpenSys(format.RecLog); err != nil {
		return nil, fmt.Errorf("$LogFile: %w", err)
	}
	needsReplay, err := CheckJournal(v.logFile)
	if err != nil {
		return nil, err
	}
	if needsReplay {
		if !readOnly {
			log.Warn("journal needs replay, cannot mount read-write")
			return nil, fmt.Errorf("mount: journal not empty: %w", ErrWouldLoseData)
		}
	} else if v.volInfo.Dirty() && !readOnly && !o.Force {
		log.Warn("volume is dirty and force is not set")
		return nil, fmt.Errorf("mount: volume dirty: %w", ErrWouldLoseData)
	}

	// 4. $MFT record accounting.
	if v.mftBmp, err = v.mft.recordBitmap(); err != nil {
		return nil, err
	}

	// 5. $BadClus.
	if err = v.loadBadClusters(); err != nil {
		return nil, err
	}

	// 6. $Bitmap covers every cluster; a short bitmap means the volume was
	// resized behind our back.
	if v.bmpFile, err = v.mft.OpenSys(format.RecBitmap); err != nil {
		return nil, fmt.Errorf("$Bitmap: %w", err)
	}
	if v.bmpFile.Size()>>32 != 0 {
		return nil, fmt.Errorf("$Bitmap: %d bytes: %w", v.bmpFile.Size(), ErrInvalidFormat)
	}
	need := (g.Clusters + 7) / 8
	if v.bmpFile.Size() < need {
		return nil, fmt.Errorf("$Bitmap: %d bytes for %d clusters: %w", v.bmpFile.Size(), g.Clusters, ErrInvalidFormat)
	}
	bits, err := v.bmpFile.ReadAll(maxClusterBitmapBytes)
	if err != nil {
		return nil, fmt.Errorf("$Bitmap: %w", err)
	}
	if v.used, err = LoadBitmap(bits, g.Clusters, true); err != nil {
		return nil, err
	}
	if err = v.refreshMFTZone(); err != nil {
		return nil, err
	}

	// 7. $AttrDef.
	if err = v.loadAttrDef(); err != nil {
		return nil, err
	}

	// 8. $UpCase.
	if err = v.loadUpcase(); err != nil {
		return nil, err
	}

	// 9. NTFS 3.x system files. Security is load-bearing; the $Extend
	// family degrades feature by feature.
	if v.volInfo.IsV3() {
		if err = v.securityInit(); err != nil {
			return nil, err
		}
		if err := v.loadExtendFamily(); err != nil {
			log.Warn("optional system files unavailable", "err", err)
		}
	}

	// 10. Root directory.
	if v.root, err = v.mft.OpenSys(format.RecRoot); err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	if !v.root.Header().IsDir() {
		return nil, fmt.Errorf("root: not a directory: %w", ErrInvalidFormat)
	}

	v.bootstrapped = true
	ok = true
	return v, nil
}

// loadExtendFamily resolves the optional $Extend children in order. The
// first failure stops the chain; whatever resolved before it stays usable.
func (v *Volume) loadExtendFamily() error {
	if err := v.extendInit(); err != nil {
		return err
	}
	if err := v.reparseInit(); err != nil {
		return err
	}
	if err := v.objidInit(); err != nil {
		return err
	}
	if err := v.quotaInit(); err != nil {
		return err
	}
	return nil
}

// MountFile maps an image file and mounts it.
func MountFile(path string, opts *MountOptions) (*Volume, error) {
	o := opts.withDefaults()
	writable := !o.ReadOnly
	dev, err := OpenFileDevice(path, writable, 0)
	if err != nil {
		return nil, err
	}
	v, err := Mount(dev, &o)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return v, nil
}
