package services

import (
	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
)

// NopMetrics discards every observation.
type NopMetrics struct{}

var _ ports.Metrics = NopMetrics{}

func (NopMetrics) SessionOpened(domain.ConnectionDirection)      {}
func (NopMetrics) SessionClosed(string)                          {}
func (NopMetrics) InboundRejected()                              {}
func (NopMetrics) ProbeResult(bool)                              {}
func (NopMetrics) NotificationShown()                            {}
func (NopMetrics) NotificationSuppressed(string)                 {}
func (NopMetrics) CallOutcome(string)                            {}
func (NopMetrics) PayloadRouted(domain.PayloadKind, string, int) {}
