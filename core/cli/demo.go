package cli

import (
	"context"

	"github.com/hellobchain/limsflow/common/constant"
	"github.com/hellobchain/limsflow/common/errs"
	"github.com/hellobchain/limsflow/core/approve"
	"github.com/hellobchain/limsflow/pkg/uuid"
	"github.com/spf13/cobra"
)

// demoStep 演示中每一步的结果
type demoStep struct {
	Step     string      `json:"step"`
	Message  string      `json:"message,omitempty"`
	Error    string      `json:"error,omitempty"`
	Instance interface{} `json:"instance,omitempty"`
}

type demoReport struct {
	Steps      []demoStep         `json:"steps"`
	Statistics interface{}        `json:"statistics"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

func newDemoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Walk a quotation through rejection, resubmission and full approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSystem(cmd, func(ctx context.Context, system *approve.ApprovalSystem) error {
				report, err := runDemo(ctx, system)
				if err != nil {
					return err
				}
				report.Metrics = a.gatherMetrics()
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func runDemo(ctx context.Context, system *approve.ApprovalSystem) (*demoReport, error) {
	report := &demoReport{}
	businessID := "Q-" + uuid.GetPureUUID()[:12]
	data := map[string]interface{}{"customer": "华测检测", "amount": 12000}

	logger.Infof("演示: 提交报价单 %s", businessID)
	inst, err := system.Submit(ctx, constant.BusinessQuotation, businessID, "BJ001", "alice", data)
	if err != nil {
		return nil, err
	}
	report.Steps = append(report.Steps, demoStep{Step: "alice 提交报价单", Instance: inst})

	decisions := []struct {
		actor    string
		decision constant.Decision
		comment  string
	}{
		{"bob", constant.DecisionApprove, "价格合理"},
		{"carol", constant.DecisionReject, "价格过低"},
		{"dave", constant.DecisionApprove, ""},
	}
	for _, d := range decisions {
		step := demoStep{Step: d.actor + " " + string(d.decision)}
		res, err := system.Decide(ctx, inst.ID, d.actor, d.decision, d.comment)
		if err != nil {
			step.Error = errs.Message(err)
		} else {
			step.Message = res.Message
		}
		report.Steps = append(report.Steps, step)
	}

	resubmitted, err := system.Submit(ctx, constant.BusinessQuotation, businessID, "BJ001", "alice", data)
	if err != nil {
		return nil, err
	}
	report.Steps = append(report.Steps, demoStep{Step: "alice 重新提交"})
	for _, actor := range []string{"bob", "carol", "dave"} {
		res, err := system.Approve(ctx, resubmitted.ID, actor, "")
		if err != nil {
			return nil, err
		}
		report.Steps = append(report.Steps, demoStep{Step: actor + " approve", Message: res.Message})
	}
	progress, err := system.ProgressOf(ctx, resubmitted.ID)
	if err != nil {
		return nil, err
	}
	report.Steps = append(report.Steps, demoStep{Step: "进度", Instance: progress})

	stats, err := system.Statistics(ctx, "")
	if err != nil {
		return nil, err
	}
	report.Statistics = stats
	return report, nil
}

// gatherMetrics 汇总各指标所有序列的值
func (a *app) gatherMetrics() map[string]float64 {
	if a.registry == nil {
		return nil
	}
	families, err := a.registry.Gather()
	if err != nil {
		logger.Warnf("采集指标失败: %v", err)
		return nil
	}
	out := make(map[string]float64, len(families))
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				out[mf.GetName()] += c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				out[mf.GetName()] += g.GetValue()
			}
		}
	}
	return out
}
