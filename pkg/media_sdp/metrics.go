package media_sdp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Значения метки result метрики разбора
const (
	parseResultOK    = "ok"
	parseResultError = "error"
)

// metricsCollector счетчики пакета
type metricsCollector struct {
	parsedTotal          *prometheus.CounterVec
	attributeErrorsTotal *prometheus.CounterVec
	changesTotal         *prometheus.CounterVec
	potentialCfgsTotal   *prometheus.CounterVec
}

var metrics = newMetricsCollector(prometheus.DefaultRegisterer)

func newMetricsCollector(reg prometheus.Registerer) *metricsCollector {
	factory := promauto.With(reg)
	return &metricsCollector{
		parsedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "media",
			Subsystem: "sdp",
			Name:      "parsed_total",
			Help:      "Количество разобранных SDP описаний",
		}, []string{"result"}),
		attributeErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "media",
			Subsystem: "sdp",
			Name:      "attribute_errors_total",
			Help:      "Количество пропущенных некорректных SDP атрибутов",
		}, []string{"attribute"}),
		changesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "media",
			Subsystem: "sdp",
			Name:      "changes_total",
			Help:      "Количество обнаруженных изменений по причинам",
		}, []string{"reason"}),
		potentialCfgsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "media",
			Subsystem: "sdp",
			Name:      "potential_configurations_total",
			Help:      "Количество построенных потенциальных конфигураций",
		}, []string{"origin"}),
	}
}

// SetMetricsRegisterer пересоздает счетчики пакета в указанном реестре
func SetMetricsRegisterer(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	metrics = newMetricsCollector(reg)
}

func (m *metricsCollector) parsed(result string) {
	m.parsedTotal.WithLabelValues(result).Inc()
}

func (m *metricsCollector) attributeError(attribute string) {
	m.attributeErrorsTotal.WithLabelValues(attribute).Inc()
}

func (m *metricsCollector) potentialCfg(origin string) {
	m.potentialCfgsTotal.WithLabelValues(origin).Inc()
}

// changes учитывает каждый установленный бит изменения
func (m *metricsCollector) changes(result int) {
	for _, reason := range changeReasons {
		if result&reason.bit != 0 {
			m.changesTotal.WithLabelValues(reason.token).Inc()
		}
	}
}
