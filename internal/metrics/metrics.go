package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poker_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	RoomCodeCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poker_room_code_collisions_total",
			Help: "Generated room codes rejected because the room already existed",
		},
	)

	Joins = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poker_joins_total",
			Help: "Total successful room joins",
		},
	)

	RoundsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poker_rounds_started_total",
			Help: "Total rounds opened",
		},
	)

	VotesCast = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poker_votes_cast_total",
			Help: "Total votes written (including overwrites)",
		},
	)

	ActionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poker_action_failures_total",
			Help: "Write actions that failed at the store",
		},
		[]string{"action"},
	)

	SubscriptionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poker_subscription_failures_total",
			Help: "Errors delivered by live feeds",
		},
		[]string{"feed"},
	)

	PresenceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poker_presence_failures_total",
			Help: "Swallowed presence heartbeat failures",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poker_active_sessions",
			Help: "Connected client sessions",
		},
	)
)
