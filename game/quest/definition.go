package quest

import (
	"errors"
	"fmt"

	"github.com/miyako/questforge/game/objective"
)

// Definition is an immutable, authored quest: an ordered list of objectives
// plus acceptance metadata. Definitions are shared across players; all
// per-player state lives in progress.QuestProgress.
type Definition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	// Sequential quests complete their objectives in listed order; only the
	// current objective may receive increments.
	Sequential    bool     `json:"sequential,omitempty"`
	Repeatable    bool     `json:"repeatable,omitempty"`
	MinLevel      int      `json:"min_level,omitempty"`
	MaxLevel      int      `json:"max_level,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"` // quest ids that must be completed first

	Objectives []objective.Objective `json:"objectives"`
}

// Validate checks authoring-time invariants for the whole definition.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return errors.New("quest: empty id")
	}
	if len(d.Objectives) == 0 {
		return fmt.Errorf("quest %s: no objectives", d.ID)
	}
	seen := make(map[string]bool, len(d.Objectives))
	for _, o := range d.Objectives {
		if err := o.Validate(); err != nil {
			return fmt.Errorf("quest %s: %w", d.ID, err)
		}
		if seen[o.ID] {
			return fmt.Errorf("quest %s: duplicate objective id %q", d.ID, o.ID)
		}
		seen[o.ID] = true
	}
	if d.MaxLevel > 0 && d.MinLevel > d.MaxLevel {
		return fmt.Errorf("quest %s: min_level %d > max_level %d", d.ID, d.MinLevel, d.MaxLevel)
	}
	for _, p := range d.Prerequisites {
		if p == d.ID {
			return fmt.Errorf("quest %s: quest is its own prerequisite", d.ID)
		}
	}
	return nil
}

// ObjectiveByID returns the authored objective with the given id.
func (d *Definition) ObjectiveByID(id string) (objective.Objective, bool) {
	for _, o := range d.Objectives {
		if o.ID == id {
			return o, true
		}
	}
	return objective.Objective{}, false
}

// LevelAllowed reports whether a player of the given level may accept.
func (d *Definition) LevelAllowed(level int) bool {
	if level < d.MinLevel {
		return false
	}
	if d.MaxLevel > 0 && level > d.MaxLevel {
		return false
	}
	return true
}
