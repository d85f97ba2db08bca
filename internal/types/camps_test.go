package types

import "testing"

func TestCampOf(t *testing.T) {
	cases := []struct {
		bias float64
		want Camp
	}{
		{-1.0, CampSupportive},
		{-0.31, CampSupportive},
		{-0.3, CampNeutral},
		{0.0, CampNeutral},
		{0.3, CampNeutral},
		{0.31, CampOpposing},
		{1.0, CampOpposing},
	}
	for _, tc := range cases {
		if got := CampOf(Perspective{Bias: tc.bias}); got != tc.want {
			t.Fatalf("CampOf(bias=%v) = %s, want %s", tc.bias, got, tc.want)
		}
	}
}

func TestCampsOrdering(t *testing.T) {
	set := &PerspectiveSet{Perspectives: []Perspective{
		{Bias: -0.9, Significance: 0.2, Text: "weak support"},
		{Bias: -0.5, Significance: 0.8, Text: "strong support"},
		{Bias: 0.9, Significance: 0.5, Text: "opposition"},
	}}
	camps := set.Camps()

	sup := camps[CampSupportive]
	if len(sup) != 2 {
		t.Fatalf("supportive camp = %d members, want 2", len(sup))
	}
	if sup[0].Significance < sup[1].Significance {
		t.Fatalf("camp not ordered by descending significance: %v", sup)
	}
	if len(camps[CampNeutral]) != 0 {
		t.Fatalf("neutral camp populated: %v", camps[CampNeutral])
	}
}

func TestCampsNilSet(t *testing.T) {
	var set *PerspectiveSet
	camps := set.Camps()
	if len(camps[CampSupportive])+len(camps[CampNeutral])+len(camps[CampOpposing]) != 0 {
		t.Fatalf("nil set produced members")
	}
}

func TestItemsForNilSet(t *testing.T) {
	var set *EnrichmentSet
	if got := set.ItemsFor("anything"); got != nil {
		t.Fatalf("ItemsFor on nil set = %v", got)
	}
}
