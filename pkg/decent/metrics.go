package decent

import "github.com/prometheus/client_golang/prometheus"

const (
	labelSuccess = "success"
	labelFailure = "failure"
)

var (
	framesReceivedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "decentscale_frames_received_total",
		Help: "Number of valid frames received from the scale, by kind",
	}, []string{"kind"})
	frameErrorsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "decentscale_frame_errors_total",
		Help: "Number of dropped frames, by reason",
	}, []string{"reason"})
	commandWritesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "decentscale_command_writes_total",
		Help: "Number of physical command writes, by result",
	}, []string{"result"})
	heartbeatsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "decentscale_heartbeats_total",
		Help: "Number of heartbeat commands sent",
	})
	connectAttemptsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "decentscale_connect_attempts_total",
		Help: "Number of connection attempts, by result",
	}, []string{"result"})
)

// RegisterMetrics registers all driver metrics with the provided registerer
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		framesReceivedCounter,
		frameErrorsCounter,
		commandWritesCounter,
		heartbeatsCounter,
		connectAttemptsCounter,
	)
}
