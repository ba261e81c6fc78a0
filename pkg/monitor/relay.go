package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 中继业务指标。指标对象在包加载时创建，未注册时也可以安全调用 (测试场景)
var (
	RelayRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_requests_total",
		Help: "Relay requests by kind and response status.",
	}, []string{"kind", "status"})

	GuardConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_guard_conflicts_total",
		Help: "Relay requests rejected because the dedup key was in flight.",
	})

	RelayInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_inflight",
		Help: "Relay transactions submitted and awaiting finality.",
	})

	ConfirmDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_confirm_seconds",
		Help:    "Time from submission to observed finality.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"outcome"})

	SubmissionErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_submission_errors_total",
		Help: "Relay submissions that failed, by reason.",
	}, []string{"reason"})

	SignersBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "purse_signers_busy",
		Help: "Signer wallets currently allocated.",
	})

	SignerBalance = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "purse_signer_balance_eth",
		Help: "Last observed signer balance in ETH.",
	}, []string{"address"})
)

func registerRelayMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		RelayRequestsTotal,
		GuardConflictsTotal,
		RelayInFlight,
		ConfirmDuration,
		SubmissionErrorsTotal,
		SignersBusy,
		SignerBalance,
	)
}
