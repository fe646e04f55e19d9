package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type PSMMetrics struct {
	swaps        *prometheus.CounterVec
	swapFailures *prometheus.CounterVec
	volume       *prometheus.CounterVec
	budgetBuffer prometheus.Gauge
	custody      prometheus.Gauge
}

var (
	psmOnce     sync.Once
	psmRegistry *PSMMetrics
)

func PSM() *PSMMetrics {
	psmOnce.Do(func() {
		psmRegistry = &PSMMetrics{
			swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "psm_swaps_total",
				Help: "Count of completed swaps by direction.",
			}, []string{"direction"}),
			swapFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "psm_swap_failures_total",
				Help: "Count of rejected swaps by direction and reason.",
			}, []string{"direction", "reason"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "psm_swap_volume_total",
				Help: "Output volume settled per direction, in base units.",
			}, []string{"direction"}),
			budgetBuffer: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "psm_budget_buffer",
				Help: "Currently available mint budget, in base units.",
			}),
			custody: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "psm_reserve_custody",
				Help: "Reserve balance held in module custody, in base units.",
			}),
		}
		prometheus.MustRegister(
			psmRegistry.swaps,
			psmRegistry.swapFailures,
			psmRegistry.volume,
			psmRegistry.budgetBuffer,
			psmRegistry.custody,
		)
	})
	return psmRegistry
}

func (m *PSMMetrics) ObserveSwap(direction string, amountOut *big.Int) {
	if m == nil {
		return
	}
	if direction == "" {
		direction = "unknown"
	}
	m.swaps.WithLabelValues(direction).Inc()
	if amountOut != nil {
		value, _ := new(big.Float).SetInt(amountOut).Float64()
		m.volume.WithLabelValues(direction).Add(value)
	}
}

func (m *PSMMetrics) ObserveSwapFailure(direction, reason string) {
	if m == nil {
		return
	}
	if direction == "" {
		direction = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	m.swapFailures.WithLabelValues(direction, reason).Inc()
}

func (m *PSMMetrics) SetBudgetBuffer(buffer *big.Int) {
	if m == nil || buffer == nil {
		return
	}
	value, _ := new(big.Float).SetInt(buffer).Float64()
	m.budgetBuffer.Set(value)
}

func (m *PSMMetrics) SetReserveCustody(balance *big.Int) {
	if m == nil || balance == nil {
		return
	}
	value, _ := new(big.Float).SetInt(balance).Float64()
	m.custody.Set(value)
}
