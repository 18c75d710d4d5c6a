package notifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "review_active_subscriptions",
			Help: "Open review subscriptions on this instance",
		},
	)

	snapshotsReplaced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "review_snapshots_replaced_total",
			Help: "Unread snapshots replaced by a newer one in a subscriber mailbox",
		},
	)

	snapshotsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "review_snapshots_delivered_total",
			Help: "Snapshots placed in subscriber mailboxes",
		},
	)

	snapshotBuildErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "review_snapshot_build_errors_total",
			Help: "Snapshot builds that failed to read the store",
		},
	)

	feedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_change_feed_messages_total",
			Help: "Cross-instance change feed messages by direction and outcome",
		},
		[]string{"direction", "result"},
	)
)
