package objective

import (
	"errors"
	"fmt"
)

// Kind is the closed set of objective variants.
type Kind string

const (
	BreakBlock    Kind = "break_block"
	PlaceBlock    Kind = "place_block"
	CollectItem   Kind = "collect_item"
	CraftItem     Kind = "craft_item"
	KillMob       Kind = "kill_mob"
	KillPlayer    Kind = "kill_player"
	InteractNPC   Kind = "interact_npc"
	VisitLocation Kind = "visit_location"
	DeliverItem   Kind = "deliver_item"
	PayCurrency   Kind = "pay_currency"
	ReachLevel    Kind = "reach_level"
	Survive       Kind = "survive"
	Explore       Kind = "explore"
	Fish          Kind = "fish"
	HarvestCrop   Kind = "harvest"
)

// Params carries the kind-specific configuration. Only the fields the kind
// reads are meaningful; the rest stay zero.
type Params struct {
	BlockType  string  `json:"block_type,omitempty"`
	ItemType   string  `json:"item_type,omitempty"`
	EntityType string  `json:"entity_type,omitempty"`
	NameFilter string  `json:"name_filter,omitempty"` // custom-name filter for mobs/players
	NPCID      string  `json:"npc_id,omitempty"`
	World      string  `json:"world,omitempty"`
	X          float64 `json:"x,omitempty"`
	Y          float64 `json:"y,omitempty"`
	Z          float64 `json:"z,omitempty"`
	Radius     float64 `json:"radius,omitempty"`
	Level      int     `json:"level,omitempty"`
	Profession string  `json:"profession,omitempty"`
}

// Objective is one measurable completion rule within a quest. It is immutable
// after authoring; per-player counters live in progress.ObjectiveProgress.
type Objective struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	Required    int    `json:"required"`
	Description string `json:"description,omitempty"`
	Params      Params `json:"params"`
}

var errUnknownKind = errors.New("objective: unknown kind")

// Validate checks authoring-time invariants.
func (o Objective) Validate() error {
	if o.ID == "" {
		return errors.New("objective: empty id")
	}
	if o.Required < 1 {
		return fmt.Errorf("objective %s: required must be >= 1, got %d", o.ID, o.Required)
	}
	if _, ok := evaluators[o.Kind]; !ok {
		return fmt.Errorf("%w %q (objective %s)", errUnknownKind, o.Kind, o.ID)
	}
	switch o.Kind {
	case BreakBlock, PlaceBlock:
		if o.Params.BlockType == "" {
			return fmt.Errorf("objective %s: block_type required", o.ID)
		}
	case CollectItem, CraftItem, DeliverItem:
		if o.Params.ItemType == "" {
			return fmt.Errorf("objective %s: item_type required", o.ID)
		}
		if o.Kind == DeliverItem && o.Params.NPCID == "" {
			return fmt.Errorf("objective %s: npc_id required", o.ID)
		}
	case KillMob:
		if o.Params.EntityType == "" && o.Params.NameFilter == "" {
			return fmt.Errorf("objective %s: entity_type or name_filter required", o.ID)
		}
	case InteractNPC:
		if o.Params.NPCID == "" {
			return fmt.Errorf("objective %s: npc_id required", o.ID)
		}
	case VisitLocation:
		if o.Params.Radius <= 0 {
			return fmt.Errorf("objective %s: radius must be > 0", o.ID)
		}
	case ReachLevel:
		if o.Params.Level < 1 {
			return fmt.Errorf("objective %s: level must be >= 1", o.ID)
		}
	}
	return nil
}

// Player is the read view of the acting player an objective evaluates
// against. RemoveItem exists solely for the sanctioned DeliverItem
// consumption; no other kind calls it.
type Player interface {
	ID() string
	Level() int
	CountItem(itemType string) int
	// RemoveItem removes up to n items of the given type and returns how many
	// were actually removed.
	RemoveItem(itemType string, n int) int
}
