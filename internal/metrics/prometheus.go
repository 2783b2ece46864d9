package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Counters are usable before registration so unit tests exercising the
// gateway do not need a registry.
var (
	LoginSuccessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authgate_logins_success_total",
		Help: "Total number of successful logins by authentication method.",
	}, []string{"method"})

	LoginFailureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authgate_logins_failure_total",
		Help: "Total number of failed logins by authentication method.",
	}, []string{"method"})

	TokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authgate_local_tokens_issued_total",
		Help: "Total number of locally issued tokens.",
	})

	UpstreamErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authgate_upstream_errors_total",
		Help: "Total number of identity provider call failures by error code.",
	}, []string{"code"})
)

// Register registers the gateway metrics with the given registerer. Call
// once at startup.
func Register(reg prometheus.Registerer) {
	for _, c := range []prometheus.Collector{
		LoginSuccessTotal,
		LoginFailureTotal,
		TokensIssuedTotal,
		UpstreamErrorsTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("failed to register gateway metric")
		}
	}
}
