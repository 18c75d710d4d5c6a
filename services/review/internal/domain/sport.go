package domain

import (
	"strings"
	"unicode/utf8"
)

var sportsByKeyword = map[string]string{
	"basketball":        "Basketball",
	"soccer":            "Soccer",
	"football":          "Football",
	"tennis":            "Tennis",
	"swimming":          "Swimming",
	"baseball":          "Baseball",
	"volleyball":        "Volleyball",
	"golf":              "Golf",
	"gymnastics":        "Gymnastics",
	"wrestling":         "Wrestling",
	"boxing":            "Boxing",
	"hockey":            "Hockey",
	"lacrosse":          "Lacrosse",
	"softball":          "Softball",
	"cricket":           "Cricket",
	"personal training": "Personal Training",
	"yoga":              "Yoga",
	"pilates":           "Pilates",
	"track":             "Track & Field",
	"field":             "Track & Field",
	"track and field":   "Track & Field",
	"track & field":     "Track & Field",
	"martial arts":      "Martial Arts",
	"karate":            "Martial Arts",
	"judo":              "Martial Arts",
	"taekwondo":         "Martial Arts",
	"mma":               "MMA",
	"fitness":           "Fitness Training",
	"fitness training":  "Fitness Training",
	"crossfit":          "CrossFit",
}

// CanonicalSport normalizes a free-form sport tag: whitespace is collapsed,
// known sports map case-insensitively to their display name, and unknown
// tags are kept as typed. The result is capped at MaxSportLength runes.
func CanonicalSport(raw string) string {
	cleaned := strings.Join(strings.Fields(raw), " ")
	if cleaned == "" {
		return ""
	}
	if name, ok := sportsByKeyword[strings.ToLower(cleaned)]; ok {
		return name
	}
	if utf8.RuneCountInString(cleaned) > MaxSportLength {
		cleaned = strings.TrimSpace(string([]rune(cleaned)[:MaxSportLength]))
	}
	return cleaned
}
