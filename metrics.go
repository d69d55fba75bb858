package authcore

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID int

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLockout
	MetricMFAChallengeIssued
	MetricMFASuccess
	MetricMFAFailure
	MetricTokenIssued
	MetricTokenRefreshed
	MetricTokenReuseDetected
	MetricSessionRevoked
	MetricSessionEvicted
	MetricAccessValidated
	MetricAccessRejected
	MetricPasswordChanged
	MetricAuditDropped
	metricCount
)

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	LoginSuccess       uint64
	LoginFailure       uint64
	Lockout            uint64
	MFAChallengeIssued uint64
	MFASuccess         uint64
	MFAFailure         uint64
	TokenIssued        uint64
	TokenRefreshed     uint64
	TokenReuseDetected uint64
	SessionRevoked     uint64
	SessionEvicted     uint64
	AccessValidated    uint64
	AccessRejected     uint64
	PasswordChanged    uint64
	AuditDropped       uint64
}

const cacheLineSize = 64

// paddedCounter avoids false sharing between adjacent counters.
type paddedCounter struct {
	value atomic.Uint64
	_     [cacheLineSize - 8]byte
}

type metrics struct {
	enabled  bool
	counters [metricCount]paddedCounter
}

func newMetrics(enabled bool) *metrics {
	return &metrics{enabled: enabled}
}

func (m *metrics) inc(id MetricID) {
	if m == nil || !m.enabled {
		return
	}
	if id < 0 || id >= metricCount {
		return
	}
	m.counters[id].value.Add(1)
}

func (m *metrics) snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		LoginSuccess:       m.counters[MetricLoginSuccess].value.Load(),
		LoginFailure:       m.counters[MetricLoginFailure].value.Load(),
		Lockout:            m.counters[MetricLockout].value.Load(),
		MFAChallengeIssued: m.counters[MetricMFAChallengeIssued].value.Load(),
		MFASuccess:         m.counters[MetricMFASuccess].value.Load(),
		MFAFailure:         m.counters[MetricMFAFailure].value.Load(),
		TokenIssued:        m.counters[MetricTokenIssued].value.Load(),
		TokenRefreshed:     m.counters[MetricTokenRefreshed].value.Load(),
		TokenReuseDetected: m.counters[MetricTokenReuseDetected].value.Load(),
		SessionRevoked:     m.counters[MetricSessionRevoked].value.Load(),
		SessionEvicted:     m.counters[MetricSessionEvicted].value.Load(),
		AccessValidated:    m.counters[MetricAccessValidated].value.Load(),
		AccessRejected:     m.counters[MetricAccessRejected].value.Load(),
		PasswordChanged:    m.counters[MetricPasswordChanged].value.Load(),
		AuditDropped:       m.counters[MetricAuditDropped].value.Load(),
	}
}
