// Package coach classifies exercise names and derives rest defaults from them.
package coach

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Category groups exercises with similar recovery needs.
type Category string

const (
	Compound  Category = "compound"
	Isolation Category = "isolation"
	Cardio    Category = "cardio"
	Mobility  Category = "mobility"
	Unknown   Category = "unknown"
)

// maxFuzzyRatio bounds the edit distance to a catalog entry, relative to the
// length of the name. Roughly one typo per four characters.
const maxFuzzyRatio = 0.25

var keywords = []struct {
	word     string
	category Category
}{
	// First match wins.
	{"squat", Compound},
	{"deadlift", Compound},
	{"bench", Compound},
	{"press", Compound},
	{"row", Compound},
	{"pull-up", Compound},
	{"pullup", Compound},
	{"chin-up", Compound},
	{"chinup", Compound},
	{"dip", Compound},
	{"lunge", Compound},
	{"clean", Compound},
	{"snatch", Compound},
	{"thrust", Compound},
	{"curl", Isolation},
	{"extension", Isolation},
	{"raise", Isolation},
	{"fly", Isolation},
	{"flye", Isolation},
	{"kickback", Isolation},
	{"pushdown", Isolation},
	{"shrug", Isolation},
	{"crunch", Isolation},
	{"calf", Isolation},
	{"run", Cardio},
	{"sprint", Cardio},
	{"bike", Cardio},
	{"jump", Cardio},
	{"burpee", Cardio},
	{"stretch", Mobility},
	{"plank", Mobility},
	{"hold", Mobility},
	{"yoga", Mobility},
	{"foam", Mobility},
}

var catalog = map[string]Category{
	"back squat":         Compound,
	"front squat":        Compound,
	"bench press":        Compound,
	"overhead press":     Compound,
	"deadlift":           Compound,
	"romanian deadlift":  Compound,
	"barbell row":        Compound,
	"pull up":            Compound,
	"hip thrust":         Compound,
	"leg press":          Compound,
	"bicep curl":         Isolation,
	"hammer curl":        Isolation,
	"tricep pushdown":    Isolation,
	"lateral raise":      Isolation,
	"leg extension":      Isolation,
	"leg curl":           Isolation,
	"chest fly":          Isolation,
	"face pull":          Isolation,
	"calf raise":         Isolation,
	"treadmill":          Cardio,
	"assault bike":       Cardio,
	"jump rope":          Cardio,
	"plank":              Mobility,
	"hamstring stretch":  Mobility,
	"hip flexor stretch": Mobility,
}

// Classify returns the category for an exercise name. Exact catalog entries
// win, then keyword matches, then the nearest catalog entry within a small
// edit distance.
func Classify(name string) Category {
	n := normalize(name)
	if n == "" {
		return Unknown
	}
	if c, ok := catalog[n]; ok {
		return c
	}
	// "rowing" must not be read as the compound "row".
	if strings.Contains(n, "rowing") || strings.Contains(n, "rower") {
		return Cardio
	}
	for _, k := range keywords {
		if strings.Contains(n, k.word) {
			return k.category
		}
	}
	if c, ok := nearest(n); ok {
		return c
	}
	return Unknown
}

func nearest(n string) (Category, bool) {
	best, bestEntry, bestDist := Unknown, "", -1
	for entry, c := range catalog {
		d := levenshtein.ComputeDistance(n, entry)
		// Ties go to the alphabetically first entry so map order never matters.
		if bestDist < 0 || d < bestDist || (d == bestDist && entry < bestEntry) {
			best, bestEntry, bestDist = c, entry, d
		}
	}
	if bestDist < 0 || float64(bestDist) > maxFuzzyRatio*float64(len(n)) {
		return Unknown, false
	}
	return best, true
}

// RecommendedRest is the default rest period in seconds for a category.
func RecommendedRest(c Category) int {
	switch c {
	case Compound:
		return 150
	case Isolation:
		return 75
	case Cardio:
		return 60
	case Mobility:
		return 30
	default:
		return 90
	}
}

// SetupTip returns a short setup cue shown while the rest timer runs.
func SetupTip(name string) string {
	switch Classify(name) {
	case Compound:
		return "Brace before you unrack and keep the bar path over mid-foot."
	case Isolation:
		return "Control the lowering phase and stop a rep short of swinging."
	case Cardio:
		return "Start the next interval at a pace you can hold to the end."
	case Mobility:
		return "Breathe slowly and ease into the end range."
	default:
		return "Shake out, sip water and set up for the next set."
	}
}

func normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "_", " ")
	return strings.Join(strings.Fields(n), " ")
}
