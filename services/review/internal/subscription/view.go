package subscription

import "github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"

// View is one rendered state of a coach: the delivered snapshot plus the
// statistics derived from it.
type View struct {
	Snapshot domain.ReviewSetSnapshot `json:"snapshot"`

	// Local is computed from the reviews in the snapshot.
	Local domain.Stats `json:"local"`

	// Server is the stored aggregate as delivered.
	Server domain.Stats `json:"server"`

	// Display is what a client should render: Local when the snapshot holds
	// the whole review set and at least as many reviews as the stored
	// aggregate counts, Server otherwise. A window of the newest reviews
	// cannot stand in for the full set even when the aggregate lags.
	Display domain.Stats `json:"display"`

	// Stale is set when the stored aggregate counts fewer reviews than the
	// snapshot carries.
	Stale bool `json:"stale"`
}

// NewView derives the display statistics for snap.
func NewView(snap domain.ReviewSetSnapshot) View {
	local := domain.ComputeStats(snap.Reviews)
	server := snap.Aggregate.Stats()

	v := View{
		Snapshot: snap,
		Local:    local,
		Server:   server,
		Display:  server,
		Stale:    local.TotalReviews > server.TotalReviews,
	}
	if snap.Complete && local.TotalReviews >= server.TotalReviews {
		v.Display = local
	}
	return v
}
