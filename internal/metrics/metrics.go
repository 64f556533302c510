package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ResultUpsertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geosurvey_result_upserts_total",
		Help: "Total task results written, by kind",
	}, []string{"kind"})
	DecodeErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geosurvey_decode_errors_total",
		Help: "Total persisted geometry payloads that failed to decode",
	})
	StoreErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geosurvey_store_errors_total",
		Help: "Total database failures by store operation",
	}, []string{"op"})
	StoreDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geosurvey_store_duration_ms",
		Help:    "Store operation duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"op"})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geosurvey_session_cache_hits_total",
		Help: "Total redis session cache hits",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geosurvey_session_cache_misses_total",
		Help: "Total redis session cache misses",
	})
	SubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geosurvey_submissions_total",
		Help: "Task submissions by kind and outcome",
	}, []string{"kind", "outcome"})
	MarkersPlacedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geosurvey_markers_placed_total",
		Help: "Total markers placed and saved incrementally",
	})
	RingsDrawnTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geosurvey_rings_drawn_total",
		Help: "Total polygon rings added to working sets",
	})
	SessionsDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geosurvey_sessions_deleted_total",
		Help: "Total sessions deleted from the gallery",
	})
	ExportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geosurvey_exports_total",
		Help: "Total session archive exports",
	})
	LiveControllers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geosurvey_live_controllers",
		Help: "Annotation controllers held in memory",
	})
)

func init() {
	prometheus.MustRegister(ResultUpsertsTotal)
	prometheus.MustRegister(DecodeErrorsTotal)
	prometheus.MustRegister(StoreErrorsTotal)
	prometheus.MustRegister(StoreDurationMs)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(SubmissionsTotal)
	prometheus.MustRegister(MarkersPlacedTotal)
	prometheus.MustRegister(RingsDrawnTotal)
	prometheus.MustRegister(SessionsDeletedTotal)
	prometheus.MustRegister(ExportsTotal)
	prometheus.MustRegister(LiveControllers)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
