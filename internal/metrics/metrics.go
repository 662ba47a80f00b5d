package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 阶段工作器指标
var (
	// JobsConsumedTotal 消费的任务总数
	JobsConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvisy_worker_jobs_consumed_total",
			Help: "阶段工作器消费的任务总数",
		},
		[]string{"stage"},
	)

	// JobsCompletedTotal 处理完成的任务总数
	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvisy_worker_jobs_completed_total",
			Help: "阶段工作器处理完成的任务总数",
		},
		[]string{"stage", "status"}, // status: success, error
	)

	// JobsInFlight 正在处理的任务数量
	JobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nvisy_worker_jobs_in_flight",
			Help: "阶段工作器正在处理的任务数量",
		},
		[]string{"stage"},
	)

	// HandlerDuration 任务处理耗时（秒）
	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nvisy_worker_handler_duration_seconds",
			Help:    "任务处理耗时分布",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	// JobsDeadLetterTotal 进入死信流的任务总数
	JobsDeadLetterTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvisy_worker_jobs_dead_letter_total",
			Help: "重试耗尽后进入死信流的任务总数",
		},
		[]string{"stage"},
	)

	// JobsDecodeFailedTotal 载荷解析失败的任务总数
	JobsDecodeFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvisy_worker_jobs_decode_failed_total",
			Help: "载荷解析失败（不可重试）的任务总数",
		},
		[]string{"stage"},
	)
)

// 输出写入指标
var (
	// OutputWrittenTotal 成功写入后端的值总数
	OutputWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvisy_output_written_total",
			Help: "成功写入输出后端的值总数",
		},
		[]string{"backend"},
	)

	// OutputDroppedTotal 因形状不符被丢弃的值总数
	OutputDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvisy_output_dropped_total",
			Help: "因数据形状不符被过滤丢弃的值总数",
		},
		[]string{"backend"},
	)

	// SinkFlushesTotal 缓冲刷写次数
	SinkFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvisy_sink_flushes_total",
			Help: "输出缓冲刷写次数",
		},
		[]string{"backend", "status"}, // status: success, error
	)

	// SinkFlushDuration 缓冲刷写耗时（秒）
	SinkFlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nvisy_sink_flush_duration_seconds",
			Help:    "输出缓冲刷写耗时分布",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"backend"},
	)
)

// 工作流执行指标
var (
	// WorkflowRunsTotal 工作流执行总数
	WorkflowRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nvisy_workflow_runs_total",
			Help: "工作流执行总数",
		},
		[]string{"status"}, // status: success, error
	)

	// WorkflowRunDuration 工作流执行耗时（秒）
	WorkflowRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nvisy_workflow_run_duration_seconds",
			Help:    "工作流执行耗时分布",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)
)

// 系统指标
var (
	// BuildInfo 构建信息
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nvisy_build_info",
			Help: "nvisy 构建信息",
		},
		[]string{"version", "go_version", "commit"},
	)
)

// RecordBuildInfo 记录构建信息
func RecordBuildInfo(version, goVersion, commit string) {
	BuildInfo.WithLabelValues(version, goVersion, commit).Set(1)
}
