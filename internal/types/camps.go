package types

import "sort"

// Camp thresholds on the bias coordinate. Perspectives below the supportive
// threshold back the content, above the opposing threshold dispute it, and
// everything between is the shared neutral baseline.
const (
	SupportiveBiasMax = -0.3
	OpposingBiasMin   = 0.3
)

// CampOf buckets a single perspective by its bias coordinate.
func CampOf(p Perspective) Camp {
	switch {
	case p.Bias < SupportiveBiasMax:
		return CampSupportive
	case p.Bias > OpposingBiasMin:
		return CampOpposing
	default:
		return CampNeutral
	}
}

// Camps clusters the set into the three debate camps. Within each camp the
// perspectives are ordered by descending significance so callers can pick the
// strongest ones first.
func (s *PerspectiveSet) Camps() map[Camp][]Perspective {
	out := map[Camp][]Perspective{
		CampSupportive: nil,
		CampOpposing:   nil,
		CampNeutral:    nil,
	}
	if s == nil {
		return out
	}
	for _, p := range s.Perspectives {
		c := CampOf(p)
		out[c] = append(out[c], p)
	}
	for c := range out {
		ps := out[c]
		sort.SliceStable(ps, func(i, j int) bool {
			return ps[i].Significance > ps[j].Significance
		})
	}
	return out
}
