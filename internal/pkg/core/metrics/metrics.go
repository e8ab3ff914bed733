package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PromRegistry  = prometheus.NewRegistry()
	OTARegisterer = prometheus.WrapRegistererWithPrefix("ota_", PromRegistry)
	UpdateChecks  = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "update_checks_total",
			Help: "Total number of release checks by result",
		},
		[]string{"result"},
	)
	Downloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "downloads_total",
			Help: "Total number of bundle archive downloads by result",
		},
		[]string{"result"},
	)
	DownloadedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "downloaded_bytes_total",
			Help: "Total number of archive bytes written to disk",
		},
	)
	Applies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "applies_total",
			Help: "Total number of attempts to promote a staged bundle by result",
		},
		[]string{"result"},
	)
	Rollbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rollbacks_total",
			Help: "Total number of rollbacks to the backup bundle",
		},
	)
	Confirmations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "confirmations_total",
			Help: "Total number of pending updates confirmed as successful",
		},
	)
)

// Result label values.
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultAvailable = "available"
	ResultNone      = "none"
)

func init() {
	OTARegisterer.MustRegister(UpdateChecks)
	OTARegisterer.MustRegister(Downloads)
	OTARegisterer.MustRegister(DownloadedBytes)
	OTARegisterer.MustRegister(Applies)
	OTARegisterer.MustRegister(Rollbacks)
	OTARegisterer.MustRegister(Confirmations)
}

// WriteTextfile writes all OTA metrics to path in the Prometheus text format.
// The file is meant to be picked up by a textfile collector after the process exits.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, PromRegistry)
}
