package ftpfs

import (
	"fmt"
	"time"
)

// syncProbeName is the short-lived file SynchronizeTimes writes to
// measure the server's clock against UTC.
const syncProbeName = "_ftpfs_sync_"

// roundedTimeShift rounds the shift to 15-minute units, which is the
// granularity real-world time zone offsets come in.
func roundedTimeShift(shift time.Duration) time.Duration {
	if shift == 0 {
		return 0
	}
	sign := time.Duration(1)
	abs := shift
	if abs < 0 {
		sign, abs = -1, -abs
	}
	quarter := 15 * time.Minute
	rounded := (abs + quarter/2) / quarter * quarter
	return sign * rounded
}

// checkTimeShift validates a shift value: its rounded magnitude must
// not exceed a full day, and the raw value must not deviate from
// 15-minute units by more than five minutes.
func checkTimeShift(shift time.Duration) error {
	rounded := roundedTimeShift(shift)
	abs := rounded
	if abs < 0 {
		abs = -abs
	}
	if abs > 24*time.Hour {
		return fmt.Errorf("%w: shift %v exceeds one day", ErrTimeShift, shift)
	}
	deviation := shift - rounded
	if deviation < 0 {
		deviation = -deviation
	}
	if deviation > 5*time.Minute {
		return fmt.Errorf("%w: shift %v deviates more than 5m from 15-minute units",
			ErrTimeShift, shift)
	}
	return nil
}

// SetTimeShift sets the difference between the time zone of server
// listings and UTC:
//
//	timeShift = serverTime - UTC
//
// The value is rounded to 15-minute units; magnitudes above one day
// or values far from 15-minute units fail with an error matching
// ErrTimeShift. Changing the shift clears the stat cache, since every
// cached timestamp was computed against the previous shift.
func (h *Host) SetTimeShift(shift time.Duration) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	if err := checkTimeShift(shift); err != nil {
		return err
	}
	rounded := roundedTimeShift(shift)
	if !h.timeShiftSet || rounded != h.timeShift {
		h.cache.Clear()
		h.timeShift = rounded
	}
	h.timeShiftSet = true
	return nil
}

// TimeShift returns the configured time shift. The second return
// value reports whether a shift was ever established; conditional
// transfers require that.
func (h *Host) TimeShift() (time.Duration, bool) {
	return h.timeShift, h.timeShiftSet
}

// SynchronizeTimes derives the time shift by writing a probe file in
// the current remote directory, stat'ing it, and comparing the
// server-reported timestamp against the local UTC clock. It needs
// write access to the current directory; the usual pattern is to call
// it right after connecting, while the login directory is current.
//
// All failures surface as errors matching ErrTimeShift.
func (h *Host) SynchronizeTimes() error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	f, err := h.Open(syncProbeName, WithMode("wb"))
	if err != nil {
		return fmt.Errorf("%w: cannot write probe file in %q: %v",
			ErrTimeShift, h.curDir, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: cannot write probe file in %q: %v",
			ErrTimeShift, h.curDir, err)
	}
	// If the probe could be written, stat'ing and removing it should
	// work too; failures here mean something changed underneath us.
	serverTime, err := h.Getmtime(syncProbeName)
	if err != nil {
		return fmt.Errorf("%w: cannot stat probe file: %v", ErrTimeShift, err)
	}
	if err := h.Remove(syncProbeName); err != nil {
		return fmt.Errorf("%w: could write probe file but not remove it: %v",
			ErrTimeShift, err)
	}
	now := h.now()
	shift := serverTime.Sub(now)
	// With the shift still unset, the parser may have put the probe's
	// timestamp one year in the past (the year heuristic saw a
	// "future" time for servers east of UTC). Detect that and read
	// the probe's time one year later.
	if shift < -360*24*time.Hour {
		shift = serverTime.AddDate(1, 0, 0).Sub(now)
	}
	return h.SetTimeShift(shift)
}
