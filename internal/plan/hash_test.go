package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basePlan() *Plan {
	return &Plan{
		Name: "checkout",
		Items: []Item{
			{ID: "E1", Type: TypeEpic, Title: "Checkout flow", SubItemIDs: []string{"S1", "S2"}},
			{ID: "S1", Type: TypeStory, Title: "Cart", ParentID: "E1", SubItemIDs: []string{"T1"}},
			{ID: "S2", Type: TypeStory, Title: "Payment", ParentID: "E1", DependsOn: []string{"S1"}},
			{ID: "T1", Type: TypeTask, Title: "Cart model", ParentID: "S1"},
		},
	}
}

func TestHashLength(t *testing.T) {
	id, err := Hash(basePlan())
	require.NoError(t, err)
	assert.Len(t, id, PlanIDLength)
	assert.Regexp(t, "^[0-9a-f]+$", id)
}

func TestHashStableUnderReordering(t *testing.T) {
	p1 := basePlan()

	p2 := basePlan()
	// Reverse item order and shuffle set-valued fields
	p2.Items[0], p2.Items[3] = p2.Items[3], p2.Items[0]
	p2.Items[1], p2.Items[2] = p2.Items[2], p2.Items[1]
	for i := range p2.Items {
		if p2.Items[i].ID == "E1" {
			p2.Items[i].SubItemIDs = []string{"S2", "S1"}
		}
	}

	h1, err := Hash(p1)
	require.NoError(t, err)
	h2, err := Hash(p2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "reordering items or sets must not change the plan id")
}

func TestHashEmptyVersusAbsent(t *testing.T) {
	p1 := basePlan()
	p2 := basePlan()
	for i := range p2.Items {
		if p2.Items[i].DependsOn == nil {
			p2.Items[i].DependsOn = []string{}
		}
		if p2.Items[i].SubItemIDs == nil {
			p2.Items[i].SubItemIDs = []string{}
		}
	}

	h1, err := Hash(p1)
	require.NoError(t, err)
	h2, err := Hash(p2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "empty and absent collections must hash identically")
}

func TestHashSensitiveToContent(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Plan)
	}{
		{
			name:   "title change",
			mutate: func(p *Plan) { p.Items[3].Title = "Cart schema" },
		},
		{
			name:   "new dependency",
			mutate: func(p *Plan) { p.Items[3].DependsOn = []string{"S2"} },
		},
		{
			name:   "estimate added",
			mutate: func(p *Plan) { p.Items[3].Estimate = "3" },
		},
		{
			name:   "item removed",
			mutate: func(p *Plan) { p.Items = p.Items[:3] },
		},
		{
			name:   "plan renamed",
			mutate: func(p *Plan) { p.Name = "checkout-v2" },
		},
	}

	base, err := Hash(basePlan())
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := basePlan()
			tt.mutate(p)
			h, err := Hash(p)
			require.NoError(t, err)
			assert.NotEqual(t, base, h)
		})
	}
}

func TestCanonicalizeDeterministic(t *testing.T) {
	p := basePlan()
	c1, err := Canonicalize(p)
	require.NoError(t, err)
	c2, err := Canonicalize(p)
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
}
