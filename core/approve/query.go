package approve

import (
	"context"
	"sort"

	"github.com/hellobchain/limsflow/common/constant"
	"github.com/hellobchain/limsflow/common/errs"
	"github.com/hellobchain/limsflow/common/models"
	"github.com/hellobchain/limsflow/core/repository"
	"github.com/pkg/errors"
)

var pendingOnly = []constant.ApprovalStatus{constant.StatusPending}

// Page 分页参数, Number 从 1 开始; 零值表示不分页
type Page struct {
	Number int `json:"current"`
	Size   int `json:"size"`
}

func (p Page) apply(filter *repository.Filter) error {
	if p.Number < 0 || p.Size < 0 {
		return errors.Wrapf(errs.ErrInvalidArgument, "invalid page %d/%d", p.Number, p.Size)
	}
	if p.Size == 0 {
		return nil
	}
	number := p.Number
	if number == 0 {
		number = 1
	}
	filter.Offset = (number - 1) * p.Size
	filter.Limit = p.Size
	return nil
}

// PendingFor 当前级别由 role 审批的待审批实例, 按提交时间升序. businessType 为空时不过滤.
func (as *ApprovalSystem) PendingFor(ctx context.Context, role constant.Role, businessType constant.BusinessType, page Page) ([]*models.ApprovalInstance, error) {
	if !role.Valid() {
		return nil, errors.Wrapf(errs.ErrInvalidArgument, "unknown role %q", role)
	}
	filter := repository.Filter{
		Statuses:     pendingOnly,
		BusinessType: businessType,
		CurrentRole:  role,
	}
	if err := page.apply(&filter); err != nil {
		return nil, err
	}
	return as.repo.Query(ctx, filter)
}

// AllPending 所有待审批实例
func (as *ApprovalSystem) AllPending(ctx context.Context, businessType constant.BusinessType, page Page) ([]*models.ApprovalInstance, error) {
	filter := repository.Filter{Statuses: pendingOnly, BusinessType: businessType}
	if err := page.apply(&filter); err != nil {
		return nil, err
	}
	return as.repo.Query(ctx, filter)
}

// CompletedFor 已结束(通过, 拒绝, 撤销)的实例
func (as *ApprovalSystem) CompletedFor(ctx context.Context, businessType constant.BusinessType) ([]*models.ApprovalInstance, error) {
	return as.repo.Query(ctx, repository.Filter{Statuses: constant.TerminalStatuses, BusinessType: businessType})
}

// SubmittedBy 提交人发起的实例, 最近提交的在前
func (as *ApprovalSystem) SubmittedBy(ctx context.Context, submitter string, page Page) ([]*models.ApprovalInstance, error) {
	if submitter == "" {
		return nil, errors.Wrap(errs.ErrInvalidArgument, "submitter is required")
	}
	filter := repository.Filter{SubmittedBy: submitter, Newest: true}
	if err := page.apply(&filter); err != nil {
		return nil, err
	}
	return as.repo.Query(ctx, filter)
}

// 获取实例详情
func (as *ApprovalSystem) GetInstance(ctx context.Context, instanceID string) (*models.ApprovalInstance, error) {
	return as.repo.Get(ctx, instanceID)
}

// ByBusinessID 业务单据的审批实例: 有待审批实例时返回它, 否则返回最近提交的一个; 没有时返回 nil
func (as *ApprovalSystem) ByBusinessID(ctx context.Context, businessID string) (*models.ApprovalInstance, error) {
	list, err := as.repo.Query(ctx, repository.Filter{BusinessID: businessID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	for _, inst := range list {
		if inst.Status == constant.StatusPending {
			return inst, nil
		}
	}
	return list[len(list)-1], nil
}

// ProgressOf 审批进度
func (as *ApprovalSystem) ProgressOf(ctx context.Context, instanceID string) (*models.ProgressView, error) {
	inst, err := as.repo.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	view := &models.ProgressView{
		InstanceID:   inst.ID,
		Status:       inst.Status,
		TotalLevels:  inst.Workflow.TotalLevels(),
		CurrentLevel: inst.CurrentLevel,
		Levels:       inst.Workflow.Levels,
		Records:      inst.Records,
	}
	for _, r := range inst.Records {
		if r.Action == constant.DecisionApprove {
			view.CompletedLevels++
		}
	}
	if l, ok := inst.Workflow.Level(inst.CurrentLevel); ok {
		view.CurrentLevelName = l.Name
	}
	return view, nil
}

// Statistics 审批统计. role 非空时待审批数只统计该角色当前需要处理的实例.
func (as *ApprovalSystem) Statistics(ctx context.Context, role constant.Role) (*models.Statistics, error) {
	if role != "" && !role.Valid() {
		return nil, errors.Wrapf(errs.ErrInvalidArgument, "unknown role %q", role)
	}
	all, err := as.repo.Query(ctx, repository.Filter{})
	if err != nil {
		return nil, err
	}
	stats := &models.Statistics{
		Total:  len(all),
		ByType: make(map[constant.BusinessType]int, len(constant.BusinessTypes)),
	}
	for _, bt := range constant.BusinessTypes {
		stats.ByType[bt] = 0
	}
	match := atRole(role)
	for _, inst := range all {
		stats.ByType[inst.BusinessType]++
		switch inst.Status {
		case constant.StatusPending:
			if role == "" || match(inst) {
				stats.Pending++
			}
		case constant.StatusApproved:
			stats.Approved++
		case constant.StatusRejected:
			stats.Rejected++
		case constant.StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

// History 实例的操作历史, 按时间升序
func (as *ApprovalSystem) History(ctx context.Context, instanceID string) ([]*models.ApprovalHistory, error) {
	if _, err := as.repo.Get(ctx, instanceID); err != nil {
		return nil, err
	}
	list, err := as.repo.History(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// OperatorHistory 操作人最近的操作历史, limit <= 0 时不限制
func (as *ApprovalSystem) OperatorHistory(ctx context.Context, operator string, limit int) ([]*models.ApprovalHistory, error) {
	return as.repo.OperatorHistory(ctx, operator, limit)
}

// atRole 按实例固定的流程快照判断当前级别的角色
func atRole(role constant.Role) func(*models.ApprovalInstance) bool {
	return func(inst *models.ApprovalInstance) bool {
		r, ok := inst.CurrentRole()
		return ok && r == role
	}
}
