package metrics

import (
	"testing"

	"github.com/hellobchain/limsflow/common/constant"
	"github.com/hellobchain/limsflow/common/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := New(prometheus.NewRegistry())
	q1 := &models.ApprovalInstance{ID: "1", BusinessType: constant.BusinessQuotation, Status: constant.StatusPending}
	q2 := &models.ApprovalInstance{ID: "2", BusinessType: constant.BusinessQuotation, Status: constant.StatusPending}
	r1 := &models.ApprovalInstance{ID: "3", BusinessType: constant.BusinessReport, Status: constant.StatusPending}

	for _, inst := range []*models.ApprovalInstance{q1, q2, r1} {
		require.NoError(t, c.StartEvent(inst, constant.OperateTypeSubmit))
	}
	q1.Status = constant.StatusRejected
	require.NoError(t, c.EndEvent(q1, constant.OperateTypeReject))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.submitted.WithLabelValues("quotation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.submitted.WithLabelValues("report")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pending.WithLabelValues("quotation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.finished.WithLabelValues("quotation", "rejected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.finished.WithLabelValues("quotation", "approved")))
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
