package common

import ledgererr "zkledger/core/errors"

// ModeView exposes the global evacuation flag to native modules.
type ModeView interface {
	EvacuationMode() bool
}

// Guard rejects state transitions once evacuation mode is active. A nil view
// never blocks.
func Guard(v ModeView) error {
	if v == nil {
		return nil
	}
	if v.EvacuationMode() {
		return ledgererr.ErrEvacuModeActivated
	}
	return nil
}
