package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "CampusGrid build information.",
		},
		[]string{"service", "version"},
	)
)

// InitBuildInfo registers build_info once and pins it to 1 for the running
// service/version pair.
func InitBuildInfo(service, version string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(service, version).Set(1)
}
