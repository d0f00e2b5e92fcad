// Package metrics provides Prometheus metrics for the panel.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	keyPresses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "railpanel",
		Subsystem: "panel",
		Name:      "presses_total",
		Help:      "Element presses by element kind and origin",
	}, []string{"kind", "origin"})

	busCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "railpanel",
		Subsystem: "bus",
		Name:      "commands_total",
		Help:      "Commands handed to the bus transport",
	}, []string{"command", "result"})

	busInbound = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "railpanel",
		Subsystem: "bus",
		Name:      "inbound_total",
		Help:      "Commands received from the bus",
	}, []string{"command"})

	diagnostics = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "railpanel",
		Subsystem: "panel",
		Name:      "diagnostics_total",
		Help:      "Diagnostics raised by code",
	}, []string{"code"})

	ledDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "railpanel",
		Subsystem: "led",
		Name:      "dropped_writes_total",
		Help:      "LED writes dropped because the chip is unavailable or failed",
	}, []string{"chip"})

	chipsAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "railpanel",
		Subsystem: "led",
		Name:      "chips_available",
		Help:      "Port-expander chips that acknowledged initialization",
	})
)

func IncPress(kind, origin string)     { keyPresses.WithLabelValues(kind, origin).Inc() }
func IncBusCommand(cmd, result string) { busCommands.WithLabelValues(cmd, result).Inc() }
func IncBusInbound(cmd string)         { busInbound.WithLabelValues(cmd).Inc() }
func IncDiagnostic(code string)        { diagnostics.WithLabelValues(code).Inc() }
func IncLEDDropped(chip string)        { ledDropped.WithLabelValues(chip).Inc() }
func SetChipsAvailable(n int)          { chipsAvailable.Set(float64(n)) }
