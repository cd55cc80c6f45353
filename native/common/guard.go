package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// Module identifiers consulted by Guard.
const (
	ModuleEscrow   = "escrow"
	ModuleSale     = "sale"
	ModuleVesting  = "vesting"
	ModuleBonding  = "bonding"
	ModuleFinalize = "finalize"
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is a static PauseView keyed by module name.
type Pauses map[string]bool

// IsPaused implements PauseView.
func (p Pauses) IsPaused(module string) bool { return p[module] }
