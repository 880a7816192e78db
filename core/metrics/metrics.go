// Package metrics 以 Prometheus 指标统计审批实例的生命周期, 作为 Eventer 接入审批系统.
package metrics

import (
	"github.com/hellobchain/limsflow/common/constant"
	"github.com/hellobchain/limsflow/common/models"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "limsflow"

type Collector struct {
	submitted *prometheus.CounterVec
	finished  *prometheus.CounterVec
	pending   *prometheus.GaugeVec
}

// New 创建并注册指标, reg 为 nil 时使用默认注册器
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_submitted_total",
			Help:      "Number of submitted approval instances.",
		}, []string{"business_type"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_finished_total",
			Help:      "Number of approval instances that reached a terminal status.",
		}, []string{"business_type", "status"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "approvals_pending",
			Help:      "Approval instances submitted by this process and not yet finished.",
		}, []string{"business_type"}),
	}
	reg.MustRegister(c.submitted, c.finished, c.pending)
	return c
}

func (c *Collector) StartEvent(instance *models.ApprovalInstance, _ constant.OperateType) error {
	bt := string(instance.BusinessType)
	c.submitted.WithLabelValues(bt).Inc()
	c.pending.WithLabelValues(bt).Inc()
	return nil
}

func (c *Collector) EndEvent(instance *models.ApprovalInstance, _ constant.OperateType) error {
	bt := string(instance.BusinessType)
	c.finished.WithLabelValues(bt, string(instance.Status)).Inc()
	c.pending.WithLabelValues(bt).Dec()
	return nil
}
