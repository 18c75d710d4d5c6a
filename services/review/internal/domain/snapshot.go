package domain

// ReviewSetSnapshot is the current known state of one coach: the newest
// reviews plus the stored aggregate. Deliveries are whole states, never deltas.
type ReviewSetSnapshot struct {
	CoachID   string          `json:"coachId"`
	Reviews   []Review        `json:"reviews"`
	Aggregate RatingAggregate `json:"aggregate"`

	// Complete is set when Reviews holds the coach's entire review set
	// rather than a window of the newest ones.
	Complete bool `json:"complete"`
}

// Latest returns the newest review in the snapshot.
func (s *ReviewSetSnapshot) Latest() (Review, bool) {
	if len(s.Reviews) == 0 {
		return Review{}, false
	}
	newest := s.Reviews[0]
	for _, r := range s.Reviews[1:] {
		if r.CreatedAt.After(newest.CreatedAt) {
			newest = r
		}
	}
	return newest, true
}
