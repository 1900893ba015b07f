// Package metrics defines the Prometheus instruments exposed by the
// actor-learner server
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PredictionQueueDepth is the number of prediction requests waiting
	// for a predictor
	PredictionQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "impala_prediction_queue_depth",
			Help: "Number of prediction requests waiting to be batched.",
		},
	)

	// TrainingQueueDepth is the number of trajectory fragments waiting
	// for a trainer
	TrainingQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "impala_training_queue_depth",
			Help: "Number of trajectory fragments waiting to be batched.",
		},
	)

	// PredictionBatchSize is a histogram of assembled prediction batch
	// sizes
	PredictionBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "impala_prediction_batch_size",
			Help:    "Histogram of prediction batch sizes.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024},
		},
	)

	// TrainingBatchSize is a histogram of assembled training batch
	// sizes, in fragments
	TrainingBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "impala_training_batch_size",
			Help:    "Histogram of training batch sizes in fragments.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024},
		},
	)

	// TrainedSteps counts environment steps consumed by training
	TrainedSteps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "impala_trained_steps_total",
			Help: "Total environment steps consumed by training batches.",
		},
	)

	// AverageLoss reports the exponentially averaged per-batch losses
	AverageLoss = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "impala_average_loss",
			Help: "Exponential moving average of per-batch training losses.",
		},
		[]string{"loss"},
	)
)

// RecordPredictionBatch records the size of an assembled prediction
// batch
func RecordPredictionBatch(size int) {
	PredictionBatchSize.Observe(float64(size))
}

// RecordTrainingBatch records the size of an assembled training batch
func RecordTrainingBatch(fragments int) {
	TrainingBatchSize.Observe(float64(fragments))
}

// RecordTrainedSteps adds newly trained environment steps to the total
func RecordTrainedSteps(steps int) {
	TrainedSteps.Add(float64(steps))
}

// RecordLosses reports the current loss averages
func RecordLosses(v, pi, entropy float64) {
	AverageLoss.WithLabelValues("value").Set(v)
	AverageLoss.WithLabelValues("policy").Set(pi)
	AverageLoss.WithLabelValues("entropy").Set(entropy)
}
