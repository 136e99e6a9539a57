package docregistry

import "github.com/prometheus/client_golang/prometheus"

var documentsLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "docregistry",
	Name:      "documents",
	Help:      "Number of documents currently loaded in memory.",
})

func init() {
	prometheus.MustRegister(documentsLoaded)
}

// Observe publishes the current loaded-document count to the registry
// gauge. Called by whatever owns the Registry on a tick.
func (r *Registry) Observe() {
	documentsLoaded.Set(float64(len(r.Documents())))
}
