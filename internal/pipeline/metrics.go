package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	framesCaptured = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "facestreamd",
			Subsystem: "pipeline",
			Name:      "frames_captured_total",
			Help:      "Frames read from sources across all sessions",
		},
	)

	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "facestreamd",
			Subsystem: "pipeline",
			Name:      "frames_dropped_total",
			Help:      "Frames discarded because a bounded queue was full",
		},
		[]string{"point"},
	)

	framesPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "facestreamd",
			Subsystem: "pipeline",
			Name:      "frames_published_total",
			Help:      "Annotated frames delivered to session output queues",
		},
	)

	detectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "facestreamd",
			Subsystem: "pipeline",
			Name:      "detections_total",
			Help:      "Faces detected across all sessions",
		},
	)

	inferenceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "facestreamd",
			Subsystem: "pipeline",
			Name:      "inference_errors_total",
			Help:      "Absorbed per-frame inference failures",
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(framesCaptured, framesDropped, framesPublished, detectionsTotal, inferenceErrors)
}
