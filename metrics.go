package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dchub_connections_total",
		Help: "Total number of accepted TCP connections.",
	})
	metricLoggedIn = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dchub_logged_in_users",
		Help: "Number of currently logged in users, including visible bots.",
	})
	metricFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dchub_frames_total",
		Help: "Total number of protocol frames dispatched.",
	})
	metricFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dchub_frames_dropped_total",
		Help: "Total number of frames rejected before dispatch or shed from full queues.",
	})
	metricBroadcastFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dchub_broadcast_frames_total",
		Help: "Total number of frames broadcast to all logged in users.",
	})
	metricBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dchub_bytes_sent_total",
		Help: "Total bytes written to client connections.",
	})
)
