package world

import (
	"sort"

	"sharedworld.ai/internal/sim/command"
)

// Upkeep applies time-based transitions that need no agent round-trip.
// It returns the number of doors that moved.
func (w *World) Upkeep(step uint64) int {
	moved := 0
	w.mutate(func() (bool, []command.Command) {
		ids := make([]string, 0, len(w.doors))
		for id, d := range w.doors {
			if d.State == command.DoorOpening || d.State == command.DoorClosing {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)

		var cmds []command.Command
		for _, id := range ids {
			d := w.doors[id]
			switch d.State {
			case command.DoorOpening:
				d.Progress += w.cfg.DoorSpeed
				if d.Progress >= 100 {
					d.Progress = 100
					d.State = command.DoorOpen
				}
			case command.DoorClosing:
				d.Progress -= w.cfg.DoorSpeed
				if d.Progress <= 0 {
					d.Progress = 0
					d.State = command.DoorClosed
				}
			}
			cmds = append(cmds, command.NewDoorStatusChanged(id, *d, command.AllAgents()))
		}
		moved = len(cmds)
		return true, cmds
	})
	return moved
}
