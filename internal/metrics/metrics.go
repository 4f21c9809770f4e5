package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 飲み込んだ異常ほど数えて残す。解放系はエラーを呼び出し元に返さないので、
// カウンタが無いと帳簿ドリフトに誰も気づけない。
var (
	ReservationRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservation_rejections_total",
		Help: "Reservations refused because available stock was insufficient.",
	})

	ReleaseAnomalies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservation_release_anomalies_total",
		Help: "Releases that found no matching reservation and were clamped at zero, or hit a missing product.",
	})

	CartSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_sweeps_total",
		Help: "Expiry sweep runs.",
	})

	CartSweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cart_sweep_errors_total",
		Help: "Carts that failed to be swept (isolated per cart).",
	})

	SweptCarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swept_carts_total",
		Help: "Expired anonymous carts whose reservations were released.",
	})
)
