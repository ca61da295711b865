package common

import (
	"errors"
	"fmt"
)

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether governance has halted a module.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused when the module is halted. A nil view never
// pauses anything.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%s: %w", module, ErrModulePaused)
	}
	return nil
}

// StaticPauses is a PauseView over a fixed module set.
type StaticPauses map[string]bool

func (s StaticPauses) IsPaused(module string) bool {
	return s[module]
}
