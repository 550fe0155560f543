package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Métricas del dominio. Viven en un paquete propio para que los servicios
// no dependan de internal/http.

var (
	OpaqueOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vaultcore",
		Name:      "opaque_outcomes_total",
		Help:      "Resultados de flujos OPAQUE por flujo y código",
	}, []string{"flow", "outcome"})

	OpaqueStepLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vaultcore",
		Name:      "opaque_step_latency_ms",
		Help:      "Latencia de cada paso del servidor OPAQUE en milisegundos",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"step"})

	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vaultcore",
		Name:      "sessions_created_minus_revoked",
		Help:      "Sesiones creadas menos revocadas/limpiadas desde el arranque",
	})

	SessionValidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vaultcore",
		Name:      "session_validations_total",
		Help:      "Validaciones de sesión por resultado",
	}, []string{"result"})

	PairingOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vaultcore",
		Name:      "device_pairing_total",
		Help:      "Intentos de pairing por resultado",
	}, []string{"outcome"})

	RecoveryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vaultcore",
		Name:      "recovery_attempts_total",
		Help:      "Intentos de recovery por método y resultado",
	}, []string{"method", "outcome"})

	AuditTamper = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vaultcore",
		Name:      "audit_tamper_detected_total",
		Help:      "Cadenas de auditoría con manipulación detectada",
	})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vaultcore",
		Name:      "http_requests_total",
		Help:      "Requests HTTP por ruta, método y status",
	}, []string{"route", "method", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vaultcore",
		Name:      "http_request_duration_seconds",
		Help:      "Latencia de los requests HTTP",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
)

func all() []prometheus.Collector {
	return []prometheus.Collector{
		OpaqueOutcomes, OpaqueStepLatency, SessionsActive, SessionValidations,
		PairingOutcomes, RecoveryAttempts, AuditTamper, HTTPRequests, HTTPDuration,
	}
}

// Register registra las métricas en reg (o el default si nil).
// Registrar dos veces no es error.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range all() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}
