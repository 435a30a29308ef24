package hybridstore

import (
	"math"
	"time"
)

// Profile is a named weighting of similarity, confidence, and recency used
// to rank search results.
type Profile struct {
	WSim          float64
	WConf         float64
	WRec          float64
	HalfLifeHours float64
}

// Named profiles, coefficients exactly as specified.
var (
	ProfileRecent     = Profile{WSim: 0.30, WConf: 0.10, WRec: 0.60, HalfLifeHours: 24}
	ProfileQuality    = Profile{WSim: 0.40, WConf: 0.50, WRec: 0.10, HalfLifeHours: 720}
	ProfileBalanced   = Profile{WSim: 0.34, WConf: 0.33, WRec: 0.33, HalfLifeHours: 168}
	ProfileSimilarity = Profile{WSim: 1.00, WConf: 0.00, WRec: 0.00, HalfLifeHours: 8760}
)

// Profiles maps a profile's name to its coefficients, for callers that
// select a profile by string (e.g. from a request parameter).
var Profiles = map[string]Profile{
	"recent":     ProfileRecent,
	"quality":    ProfileQuality,
	"balanced":   ProfileBalanced,
	"similarity": ProfileSimilarity,
}

// defaultConfidence is used when a message carries no confidence value.
const defaultConfidence = 0.5

// minSemanticSimilarity is the discard threshold applied to the semantic
// (vector) search path only.
const minSemanticSimilarity = 0.3

// Score computes score = w_sim*similarity + w_conf*confidence + w_rec*decay,
// decay = exp(-ln2 * age_hours / half_life_hours).
func Score(similarity float64, confidence *float64, timestamp float64, now time.Time, p Profile) float64 {
	conf := defaultConfidence
	if confidence != nil {
		conf = *confidence
	}
	ageHours := float64(now.Unix()-int64(timestamp)) / 3600.0
	decay := math.Exp(-math.Ln2 * ageHours / p.HalfLifeHours)
	return p.WSim*similarity + p.WConf*conf + p.WRec*decay
}
