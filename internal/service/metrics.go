package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killtracker_cycles_total",
			Help: "Killtracker cycles by outcome.",
		},
		[]string{"status"},
	)
	killmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killtracker_killmails_total",
			Help: "Killmails received from the feed, new or duplicate.",
		},
		[]string{"status"},
	)
	matchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "killtracker_tracker_matches_total",
			Help: "Killmails that matched a tracker.",
		},
	)
	compositionFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "killtracker_message_composition_failures_total",
			Help: "Messages dropped after composition retries ran out.",
		},
	)
)
