package domain

import (
	"math"
	"time"
)

// RatingAggregate is the derived rating summary stored on a coach record.
// Version is the number of valid reviews the aggregate was computed from;
// the review set is append-only, so a larger version is always newer.
type RatingAggregate struct {
	CoachID            string      `json:"coachId"`
	AverageRating      float64     `json:"averageRating"`
	TotalReviews       int         `json:"totalReviews"`
	RatingDistribution map[int]int `json:"ratingDistribution"`
	LastUpdatedAt      time.Time   `json:"lastUpdatedAt"`
	Version            int64       `json:"version"`
}

// Stats are the display statistics derived from a list of reviews.
type Stats struct {
	AverageRating float64     `json:"averageRating"`
	TotalReviews  int         `json:"totalReviews"`
	Distribution  map[int]int `json:"ratingDistribution"`
}

// NewDistribution returns a histogram with every rating key present.
func NewDistribution() map[int]int {
	d := make(map[int]int, MaxRating)
	for r := MinRating; r <= MaxRating; r++ {
		d[r] = 0
	}
	return d
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// ComputeStats derives count, histogram and rounded mean from reviews.
// Ratings outside the valid range are ignored.
func ComputeStats(reviews []Review) Stats {
	dist := NewDistribution()
	total, sum := 0, 0
	for i := range reviews {
		r := reviews[i].Rating
		if !ValidRating(r) {
			continue
		}
		dist[r]++
		total++
		sum += r
	}

	s := Stats{TotalReviews: total, Distribution: dist}
	if total > 0 {
		s.AverageRating = Round1(float64(sum) / float64(total))
	}
	return s
}

// ComputeAggregate builds the aggregate for a coach from its full, already
// validated review set. The result depends only on the input, so repeated
// calls over the same set are identical.
func ComputeAggregate(coachID string, reviews []Review) RatingAggregate {
	s := ComputeStats(reviews)

	var last time.Time
	for i := range reviews {
		if reviews[i].CreatedAt.After(last) {
			last = reviews[i].CreatedAt
		}
	}

	return RatingAggregate{
		CoachID:            coachID,
		AverageRating:      s.AverageRating,
		TotalReviews:       s.TotalReviews,
		RatingDistribution: s.Distribution,
		LastUpdatedAt:      last.UTC(),
		Version:            int64(s.TotalReviews),
	}
}

// EmptyAggregate is the aggregate of a coach nobody has reviewed yet.
func EmptyAggregate(coachID string) RatingAggregate {
	return RatingAggregate{CoachID: coachID, RatingDistribution: NewDistribution()}
}

// Consistent reports whether the distribution and average agree with the
// total.
func (a *RatingAggregate) Consistent() bool {
	total, sum := 0, 0
	for r := MinRating; r <= MaxRating; r++ {
		n := a.RatingDistribution[r]
		total += n
		sum += r * n
	}
	if total != a.TotalReviews {
		return false
	}
	if total == 0 {
		return a.AverageRating == 0
	}
	return a.AverageRating == Round1(float64(sum)/float64(total))
}

// Stats returns the aggregate's statistics in display form.
func (a *RatingAggregate) Stats() Stats {
	dist := NewDistribution()
	for r, n := range a.RatingDistribution {
		dist[r] = n
	}
	return Stats{AverageRating: a.AverageRating, TotalReviews: a.TotalReviews, Distribution: dist}
}
