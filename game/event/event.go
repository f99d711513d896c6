package event

// Kind identifies what happened in the game world.
type Kind string

const (
	BlockBreak   Kind = "block_break"
	BlockPlace   Kind = "block_place"
	ItemPickup   Kind = "item_pickup"
	ItemCraft    Kind = "item_craft"
	MobKill      Kind = "mob_kill"
	PlayerKill   Kind = "player_kill"
	NPCInteract  Kind = "npc_interact"
	Move         Kind = "move"
	CurrencyPay  Kind = "currency_pay"
	LevelUp      Kind = "level_up"
	SurviveTick  Kind = "survive_tick"
	ChunkExplore Kind = "chunk_explore"
	FishCatch    Kind = "fish_catch"
	Harvest      Kind = "harvest"
)

// Event is the inbound game event envelope. Only the fields relevant to the
// event's kind are set; each objective kind knows which fields it reads.
type Event struct {
	PlayerID string `json:"player_id"`
	Kind     Kind   `json:"kind"`

	BlockType  string  `json:"block_type,omitempty"`
	ItemType   string  `json:"item_type,omitempty"`
	Amount     int     `json:"amount,omitempty"` // stack size for pickup/craft/fish/harvest
	EntityType string  `json:"entity_type,omitempty"`
	EntityName string  `json:"entity_name,omitempty"` // custom display name, if any
	TargetID   string  `json:"target_id,omitempty"`   // killed player / payment target
	NPCID      string  `json:"npc_id,omitempty"`
	World      string  `json:"world,omitempty"`
	X          float64 `json:"x,omitempty"`
	Y          float64 `json:"y,omitempty"`
	Z          float64 `json:"z,omitempty"`
	Currency   int64   `json:"currency,omitempty"`
	Level      int     `json:"level,omitempty"`
	Seconds    int     `json:"seconds,omitempty"`    // elapsed survival time this tick
	Profession string  `json:"profession,omitempty"` // harvesting profession
}
