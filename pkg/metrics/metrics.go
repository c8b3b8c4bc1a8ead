// Package metrics counts the work of a quantification run and exports the
// counters in the Prometheus text format for a node exporter textfile
// collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the run counters on a private registry
type Recorder struct {
	registry *prometheus.Registry

	imagesProcessed *prometheus.CounterVec
	imagesSkipped   *prometheus.CounterVec
	stainsSkipped   *prometheus.CounterVec
	calibrationSize *prometheus.GaugeVec
	imageDuration   *prometheus.HistogramVec
}

// NewRecorder creates a recorder with all collectors registered
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		imagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "histoquant",
			Name:      "images_processed_total",
			Help:      "Images quantified, by stain.",
		}, []string{"stain"}),
		imagesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "histoquant",
			Name:      "images_skipped_total",
			Help:      "Images skipped after a failure, by stain and stage.",
		}, []string{"stain", "stage"}),
		stainsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "histoquant",
			Name:      "stains_skipped_total",
			Help:      "Stain cohorts skipped, by reason.",
		}, []string{"stain", "reason"}),
		calibrationSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "histoquant",
			Name:      "calibration_pool_pixels",
			Help:      "Pixels pooled for the intensity calibration of a stain.",
		}, []string{"stain"}),
		imageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "histoquant",
			Name:      "image_duration_seconds",
			Help:      "Time spent detecting, classifying and quantifying one image.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"stain"}),
	}
	r.registry.MustRegister(r.imagesProcessed, r.imagesSkipped, r.stainsSkipped, r.calibrationSize, r.imageDuration)
	return r
}

// ImageProcessed counts a quantified image and its processing time
func (r *Recorder) ImageProcessed(stain string, elapsed time.Duration) {
	r.imagesProcessed.WithLabelValues(stain).Inc()
	r.imageDuration.WithLabelValues(stain).Observe(elapsed.Seconds())
}

// ImageSkipped counts an image dropped at a pipeline stage
func (r *Recorder) ImageSkipped(stain, stage string) {
	r.imagesSkipped.WithLabelValues(stain, stage).Inc()
}

// StainSkipped counts a stain cohort that was not processed
func (r *Recorder) StainSkipped(stain, reason string) {
	r.stainsSkipped.WithLabelValues(stain, reason).Inc()
}

// CalibrationPool records the pool size of a stain calibration
func (r *Recorder) CalibrationPool(stain string, pixels int) {
	r.calibrationSize.WithLabelValues(stain).Set(float64(pixels))
}

// Registry returns the registry holding the collectors
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes the current values to filename atomically
func (r *Recorder) WriteTextfile(filename string) error {
	return prometheus.WriteToTextfile(filename, r.registry)
}
