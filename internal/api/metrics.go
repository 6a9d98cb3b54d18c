package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackviz_depth_jobs_started_total",
		Help: "Depth jobs picked up by a worker.",
	})

	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trackviz_depth_jobs_finished_total",
		Help: "Depth jobs by final status.",
	}, []string{"status"})

	brushUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trackviz_brush_updates_total",
		Help: "Brush changes by dataset and level.",
	}, []string{"dataset", "level"})

	eventStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trackviz_event_streams",
		Help: "Open brush event streams.",
	})
)
