package objective

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_RequiredAtLeastOne(t *testing.T) {
	o := Objective{ID: "o1", Kind: BreakBlock, Required: 0,
		Params: Params{BlockType: "stone"}}
	assert.Error(t, o.Validate())

	o.Required = 1
	assert.NoError(t, o.Validate())
}

func TestValidate_UnknownKind(t *testing.T) {
	o := Objective{ID: "o1", Kind: Kind("teleport"), Required: 1}
	assert.Error(t, o.Validate())
}

func TestValidate_KindParams(t *testing.T) {
	cases := []struct {
		name string
		obj  Objective
		ok   bool
	}{
		{"break without block type", Objective{ID: "a", Kind: BreakBlock, Required: 1}, false},
		{"collect without item type", Objective{ID: "b", Kind: CollectItem, Required: 1}, false},
		{"deliver without npc", Objective{ID: "c", Kind: DeliverItem, Required: 1,
			Params: Params{ItemType: "bread"}}, false},
		{"deliver complete", Objective{ID: "d", Kind: DeliverItem, Required: 1,
			Params: Params{ItemType: "bread", NPCID: "baker"}}, true},
		{"kill mob without filter", Objective{ID: "e", Kind: KillMob, Required: 1}, false},
		{"kill mob by name only", Objective{ID: "f", Kind: KillMob, Required: 1,
			Params: Params{NameFilter: "King Slime"}}, true},
		{"visit zero radius", Objective{ID: "g", Kind: VisitLocation, Required: 1}, false},
		{"visit with radius", Objective{ID: "h", Kind: VisitLocation, Required: 1,
			Params: Params{Radius: 5}}, true},
		{"pay without target", Objective{ID: "i", Kind: PayCurrency, Required: 100}, true},
		{"reach level zero", Objective{ID: "j", Kind: ReachLevel, Required: 1}, false},
		{"interact without npc", Objective{ID: "k", Kind: InteractNPC, Required: 1}, false},
		{"survive", Objective{ID: "l", Kind: Survive, Required: 60}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.obj.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_EmptyID(t *testing.T) {
	o := Objective{Kind: BreakBlock, Required: 1, Params: Params{BlockType: "stone"}}
	require.Error(t, o.Validate())
}
