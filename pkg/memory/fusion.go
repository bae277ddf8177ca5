package memory

import (
	"sort"
)

// DefaultRRFK is the reciprocal rank fusion constant.
const DefaultRRFK = 60.0

// Source names for the candidate-generation signals.
const (
	SourceKeyword = "keyword"
	SourceVector  = "vector"
	SourceGraph   = "graph"
)

// Source is one named ranked list passed to fusion.
type Source struct {
	Name    string
	Results []ScoredID
}

// FusedCandidate is a fusion output. Score is only meaningful for ordering
// within one fusion call.
type FusedCandidate struct {
	ID           string
	Score        float64
	SourceScores map[string]float64
	SourceRanks  map[string]int
}

// Fuse combines ranked lists with reciprocal rank fusion.
func Fuse(sources []Source, k float64) []FusedCandidate {
	return WeightedFuse(sources, nil, k)
}

// WeightedFuse is Fuse with a per-source multiplier on each contribution
// weight/(k+rank). Sources without a weight use 1.0. Output is sorted by
// fused score descending; ties keep first-seen order across sources in
// the order given.
func WeightedFuse(sources []Source, weights map[string]float64, k float64) []FusedCandidate {
	if k <= 0 {
		k = DefaultRRFK
	}

	index := make(map[string]int)
	var fused []FusedCandidate
	// contributions[i] holds fused[i]'s per-source terms until they are summed.
	var contributions []map[string]float64

	for _, src := range sources {
		w := 1.0
		if weights != nil {
			if sw, ok := weights[src.Name]; ok {
				w = sw
			}
		}
		rank := 0
		seen := make(map[string]struct{}, len(src.Results))
		for _, r := range src.Results {
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			rank++

			i, ok := index[r.ID]
			if !ok {
				i = len(fused)
				index[r.ID] = i
				fused = append(fused, FusedCandidate{
					ID:           r.ID,
					SourceScores: make(map[string]float64, len(sources)),
					SourceRanks:  make(map[string]int, len(sources)),
				})
				contributions = append(contributions, make(map[string]float64, len(sources)))
			}
			contributions[i][src.Name] += w / (k + float64(rank))
			fused[i].SourceScores[src.Name] = r.Score
			fused[i].SourceRanks[src.Name] = rank
		}
	}

	// Terms are added in source-name order so the fused score does not
	// depend on the order sources were passed in.
	names := make([]string, 0, len(sources))
	for i := range fused {
		names = names[:0]
		for name := range contributions[i] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fused[i].Score += contributions[i][name]
		}
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})
	return fused
}
