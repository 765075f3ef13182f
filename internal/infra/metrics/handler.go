package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the default registry after registering every collector.
func Handler() http.Handler {
	MustRegister()
	return promhttp.Handler()
}
