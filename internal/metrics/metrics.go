// Copyright (c) 2026 The ipcpd Authors. Licensed under the Apache License, Version 2.0 (https://www.apache.org/licenses/LICENSE-2.0).

// Package metrics exposes the IPCP's operational counters/gauges over
// HTTP for Prometheus scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter/gauge this daemon exports.
type Metrics struct {
	CDAPMessagesSent     *prometheus.CounterVec
	CDAPMessagesReceived *prometheus.CounterVec

	EnrollmentTransitions *prometheus.CounterVec
	EnrolledNeighbors     prometheus.Gauge

	InvokeIDExhaustion prometheus.Counter

	SPEngineRecomputations prometheus.Counter
	RoutingTableSize       prometheus.Gauge

	PDUFTSyncs           prometheus.Counter
	PDUFTWriteErrors     prometheus.Counter
	PDUFTInconsistencies prometheus.Gauge

	FlowAllocationsTotal *prometheus.CounterVec
}

// NewMetrics builds a Metrics instance. Call RegisterOn to attach it
// to a registry before serving /metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		CDAPMessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipcpd_cdap_messages_sent_total",
			Help: "Total number of CDAP messages sent, by op_code.",
		}, []string{"op_code"}),
		CDAPMessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipcpd_cdap_messages_received_total",
			Help: "Total number of CDAP messages received, by op_code.",
		}, []string{"op_code"}),

		EnrollmentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipcpd_enrollment_transitions_total",
			Help: "Total number of enrollment FSM state transitions, by resulting state.",
		}, []string{"state"}),
		EnrolledNeighbors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ipcpd_enrolled_neighbors",
			Help: "Current number of enrolled neighbors.",
		}),

		InvokeIDExhaustion: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipcpd_invoke_id_exhaustion_total",
			Help: "Total number of times a bounded invoke-id set was found full.",
		}),

		SPEngineRecomputations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipcpd_spengine_recomputations_total",
			Help: "Total number of shortest-path recomputations performed.",
		}),
		RoutingTableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ipcpd_routing_table_size",
			Help: "Current number of reachable destinations in the routing table.",
		}),

		PDUFTSyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipcpd_pduft_syncs_total",
			Help: "Total number of PDU forwarding table flush-then-install syncs.",
		}),
		PDUFTWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipcpd_pduft_write_errors_total",
			Help: "Total number of individual forwarding-entry write failures.",
		}),
		PDUFTInconsistencies: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ipcpd_pduft_inconsistencies",
			Help: "Current number of routing-table entries with no resolvable neighbor port.",
		}),

		FlowAllocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipcpd_flow_allocations_total",
			Help: "Total number of flow allocation requests, by outcome.",
		}, []string{"outcome"}),
	}
}

// RegisterOn registers every collector in m with reg.
func (m *Metrics) RegisterOn(reg *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		m.CDAPMessagesSent,
		m.CDAPMessagesReceived,
		m.EnrollmentTransitions,
		m.EnrolledNeighbors,
		m.InvokeIDExhaustion,
		m.SPEngineRecomputations,
		m.RoutingTableSize,
		m.PDUFTSyncs,
		m.PDUFTWriteErrors,
		m.PDUFTInconsistencies,
		m.FlowAllocationsTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
