package objective

import (
	"github.com/miyako/questforge/game/event"
)

// evaluator is one row of the dispatch table: a pure relevance predicate, a
// pure increment calculator, and an optional commit hook for the one kind
// (DeliverItem) whose contract consumes player resources. The hook runs only
// after the engine has verified eligibility and clamped the increment, so a
// failed attempt never partially consumes anything.
type evaluator struct {
	can     func(o Objective, ev event.Event, p Player) bool
	inc     func(o Objective, ev event.Event, p Player) int
	consume func(o Objective, p Player, applied int)
}

func one(Objective, event.Event, Player) int { return 1 }

var evaluators = map[Kind]evaluator{
	BreakBlock: {
		can: func(o Objective, ev event.Event, _ Player) bool {
			return ev.Kind == event.BlockBreak && ev.BlockType == o.Params.BlockType
		},
		inc: one,
	},
	PlaceBlock: {
		can: func(o Objective, ev event.Event, _ Player) bool {
			return ev.Kind == event.BlockPlace && ev.BlockType == o.Params.BlockType
		},
		inc: one,
	},
	CollectItem: {
		can: func(o Objective, ev event.Event, _ Player) bool {
			return ev.Kind == event.ItemPickup && ev.ItemType == o.Params.ItemType
		},
		inc: stackSize,
	},
	CraftItem: {
		can: func(o Objective, ev event.Event, _ Player) bool {
			return ev.Kind == event.ItemCraft && ev.ItemType == o.Params.ItemType
		},
		inc: stackSize,
	},
	KillMob: {
		can: func(o Objective, ev event.Event, _ Player) bool {
			if ev.Kind != event.MobKill {
				return false
			}
			if o.Params.EntityType != "" && ev.EntityType != o.Params.EntityType {
				return false
			}
			if o.Params.NameFilter != "" && ev.EntityName != o.Params.NameFilter {
				return false
			}
			return true
		},
		inc: one,
	},
	KillPlayer: {
		can: func(o Objective, ev event.Event, _ Player) bool {
			if ev.Kind != event.PlayerKill {
				return false
			}
			if o.Params.NameFilter != "" && ev.EntityName != o.Params.NameFilter {
				return false
			}
			return true
		},
		inc: one,
	},
	InteractNPC: {
		can: func(o Objective, ev event.Event, _ Player) bool {
			return ev.Kind == event.NPCInteract && ev.NPCID == o.Params.NPCID
		},
		inc: one,
	},
	VisitLocation: {
		can: func(o Objective, ev event.Event, _ Player) bool {
			if ev.Kind != event.Move {
				return false
			}
			if o.Params.World != "" && ev.World != o.Params.World {
				return false
			}
			dx := ev.X - o.Params.X
			dy := ev.Y - o.Params.Y
			dz := ev.Z - o.Params.Z
			return dx*dx+dy*dy+dz*dz <= o.Params.Radius*o.Params.Radius
		},
		inc: one,
	},
	DeliverItem: {
		can: func(o Objective, ev event.Event, p Player) bool {
			return ev.Kind == event.NPCInteract &&
				ev.NPCID == o.Params.NPCID &&
				p.CountItem(o.Params.ItemType) > 0
		},
		// Inventory snapshot: hand over as much as the player holds; the
		// engine clamps so the counter reaches, never exceeds, Required.
		inc: func(o Objective, _ event.Event, p Player) int {
			return p.CountItem(o.Params.ItemType)
		},
		consume: func(o Objective, p Player, applied int) {
			p.RemoveItem(o.Params.ItemType, applied)
		},
	},
	PayCurrency: {
		can: func(o Objective, ev event.Event, _ Player) bool {
			if ev.Kind != event.CurrencyPay || ev.Currency <= 0 {
				return false
			}
			return o.Params.NPCID == "" || ev.NPCID == o.Params.NPCID
		},
		// Clamp before narrowing: a payment over the objective's requirement
		// counts as the requirement, and the int64 amount must not wrap on
		// 32-bit builds.
		inc: func(o Objective, ev event.Event, _ Player) int {
			if ev.Currency > int64(o.Required) {
				return o.Required
			}
			return int(ev.Currency)
		},
	},
	ReachLevel: {
		can: func(o Objective, ev event.Event, p Player) bool {
			return ev.Kind == event.LevelUp && ev.Level >= o.Params.Level
		},
		inc: one,
	},
	Survive: {
		can: func(_ Objective, ev event.Event, _ Player) bool {
			return ev.Kind == event.SurviveTick && ev.Seconds > 0
		},
		inc: func(_ Objective, ev event.Event, _ Player) int {
			return ev.Seconds
		},
	},
	Explore: {
		can: func(o Objective, ev event.Event, _ Player) bool {
			if ev.Kind != event.ChunkExplore {
				return false
			}
			return o.Params.World == "" || ev.World == o.Params.World
		},
		inc: one,
	},
	Fish: {
		can: func(o Objective, ev event.Event, _ Player) bool {
			if ev.Kind != event.FishCatch {
				return false
			}
			return o.Params.ItemType == "" || ev.ItemType == o.Params.ItemType
		},
		inc: stackSize,
	},
	HarvestCrop: {
		can: func(o Objective, ev event.Event, _ Player) bool {
			if ev.Kind != event.Harvest {
				return false
			}
			if o.Params.BlockType != "" && ev.BlockType != o.Params.BlockType {
				return false
			}
			if o.Params.Profession != "" && ev.Profession != o.Params.Profession {
				return false
			}
			return true
		},
		inc: stackSize,
	},
}

func stackSize(_ Objective, ev event.Event, _ Player) int {
	if ev.Amount > 0 {
		return ev.Amount
	}
	return 1
}

// CanProgress reports whether the event is relevant to this objective for
// this player. It is a pure predicate: no state is mutated. Events addressed
// to a different player are always rejected.
func CanProgress(o Objective, ev event.Event, p Player) bool {
	if ev.PlayerID != p.ID() {
		return false
	}
	e, ok := evaluators[o.Kind]
	if !ok {
		return false
	}
	return e.can(o, ev, p)
}

// Increment returns the raw progress magnitude for the event, 0 whenever
// CanProgress is false. The engine clamps the result against the objective's
// remaining requirement before applying it.
func Increment(o Objective, ev event.Event, p Player) int {
	if !CanProgress(o, ev, p) {
		return 0
	}
	n := evaluators[o.Kind].inc(o, ev, p)
	if n < 0 {
		return 0
	}
	return n
}

// Consume commits the objective's side effect for an applied (already
// clamped) increment. Only DeliverItem has one; for every other kind this is
// a no-op.
func Consume(o Objective, p Player, applied int) {
	if applied <= 0 {
		return
	}
	if e, ok := evaluators[o.Kind]; ok && e.consume != nil {
		e.consume(o, p, applied)
	}
}
