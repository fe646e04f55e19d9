package common

import "errors"

// ErrModulePaused is returned when a guarded module has been halted by the
// operator switchboard.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named module is currently halted.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the module is paused. A nil view or empty
// module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Switchboard is an in-memory PauseView with explicit operator controls.
type Switchboard struct {
	paused map[string]bool
}

// NewSwitchboard constructs a switchboard with every module running.
func NewSwitchboard() *Switchboard {
	return &Switchboard{paused: make(map[string]bool)}
}

// Pause halts the named module.
func (s *Switchboard) Pause(module string) {
	if s == nil || module == "" {
		return
	}
	s.paused[module] = true
}

// Resume lifts the halt on the named module.
func (s *Switchboard) Resume(module string) {
	if s == nil || module == "" {
		return
	}
	delete(s.paused, module)
}

// IsPaused implements PauseView.
func (s *Switchboard) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	return s.paused[module]
}
