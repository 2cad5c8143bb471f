package server

import "fmt"

// Mode selects which roles a process plays.
type Mode string

const (
	ModeProducer  Mode = "producer"
	ModeDashboard Mode = "dashboard"
	ModeAll       Mode = "all"
	ModeOnce      Mode = "once"
	ModeStatus    Mode = "status"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeProducer, ModeDashboard, ModeAll, ModeOnce, ModeStatus:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q (producer, dashboard, all, once, status)", s)
	}
}

// Produces reports whether the mode runs analyses and writes reports.
func (m Mode) Produces() bool { return m == ModeProducer || m == ModeAll || m == ModeOnce }

// Serves reports whether the mode runs the HTTP API.
func (m Mode) Serves() bool { return m == ModeDashboard || m == ModeAll }

// Schedules reports whether the mode keeps producing on a schedule.
func (m Mode) Schedules() bool { return m == ModeProducer || m == ModeAll }
