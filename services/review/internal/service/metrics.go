package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reviewsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviews_submitted_total",
			Help: "Reviews stored, by author kind",
		},
		[]string{"author"},
	)

	authFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "review_auth_fallbacks_total",
			Help: "Submissions whose credential could not be resolved and were stored anonymously",
		},
	)

	ratingCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_rating_cache_lookups_total",
			Help: "Rating cache lookups by result",
		},
		[]string{"result"},
	)
)
