// Package monitor 提供 Prometheus 指标与进程资源采样
package monitor

import (
	"context"
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/TIANLI0/MaskKit/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Metrics 持有独立的 registry，nil 接收者上的方法均为空操作
type Metrics struct {
	registry  *prometheus.Registry
	requests  *prometheus.CounterVec
	inference prometheus.Histogram
	instances prometheus.Counter
	memUsage  prometheus.Gauge
	cpuUsage  prometheus.Gauge
	proc      *process.Process
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maskkit_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		}, []string{"endpoint", "status"}),
		inference: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "maskkit_inference_duration_seconds",
			Help:    "Segmentation model inference latency",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		instances: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maskkit_instances_detected_total",
			Help: "Total number of instance polygons returned",
		}),
		memUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "maskkit_memory_usage_megabytes",
			Help: "Memory usage in Megabytes",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "maskkit_cpu_usage_percent",
			Help: "CPU usage in percent",
		}),
	}
	m.registry.MustRegister(m.requests, m.inference, m.instances, m.memUsage, m.cpuUsage)
	return m
}

// Registry 供测试读取指标
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(endpoint string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveInference(d time.Duration, instances int) {
	if m == nil {
		return
	}
	m.inference.Observe(d.Seconds())
	m.instances.Add(float64(instances))
}

// Run 周期采样进程内存与 CPU，直到 ctx 结束
func (m *Metrics) Run(ctx context.Context, interval time.Duration) {
	if m == nil {
		return
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		utils.Logger.Warn("process metrics disabled", zap.Error(err))
		return
	}
	m.proc = proc

	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Metrics) sample() {
	if memInfo, err := m.proc.MemoryInfo(); err == nil {
		m.memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := m.proc.CPUPercent(); err == nil {
		m.cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}
