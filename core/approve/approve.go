package approve

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hellobchain/limsflow/common/constant"
	"github.com/hellobchain/limsflow/common/errs"
	"github.com/hellobchain/limsflow/common/models"
	"github.com/hellobchain/limsflow/core/eventer"
	"github.com/hellobchain/limsflow/core/notifier"
	"github.com/hellobchain/limsflow/core/repository"
	"github.com/hellobchain/limsflow/core/repository/memory"
	"github.com/hellobchain/limsflow/core/tracing"
	"github.com/hellobchain/limsflow/core/workflow"
	"github.com/hellobchain/limsflow/pkg/uuid"
	"github.com/hellobchain/wswlog/wlogging"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

var logger = wlogging.MustGetLoggerWithoutName()

const (
	MsgRejected    = "审批已拒绝"
	MsgAllApproved = "审批已全部通过"
	MsgCancelled   = "审批已撤销"
	msgNextLevel   = "已批准,进入第%d级审批"
)

// 审批系统
type ApprovalSystem struct {
	repo     repository.Repository
	registry *workflow.Registry
	notifier notifier.Notifier
	eventer  eventer.Eventer // 事件处理器
	roles    RoleResolver    // 为空时不校验审批人角色
	now      func() time.Time
	newID    func() string
}

// Repository 设置实例存储
func Repository(repo repository.Repository) func(*ApprovalSystem) {
	return func(as *ApprovalSystem) {
		as.repo = repo
	}
}

// Registry 设置流程注册表
func Registry(registry *workflow.Registry) func(*ApprovalSystem) {
	return func(as *ApprovalSystem) {
		as.registry = registry
	}
}

// Notifier 设置通知器
func Notifier(notifier notifier.Notifier) func(*ApprovalSystem) {
	return func(as *ApprovalSystem) {
		as.notifier = notifier
	}
}

// Eventer 设置事件处理器
func Eventer(eventer eventer.Eventer) func(*ApprovalSystem) {
	return func(as *ApprovalSystem) {
		as.eventer = eventer
	}
}

// Roles 开启审批人角色校验
func Roles(roles RoleResolver) func(*ApprovalSystem) {
	return func(as *ApprovalSystem) {
		as.roles = roles
	}
}

func Clock(now func() time.Time) func(*ApprovalSystem) {
	return func(as *ApprovalSystem) {
		as.now = now
	}
}

func IDGenerator(newID func() string) func(*ApprovalSystem) {
	return func(as *ApprovalSystem) {
		as.newID = newID
	}
}

// 创建新的审批系统, 未设置的组件使用内存存储与内置流程
func NewApprovalSystem(opts ...func(*ApprovalSystem)) *ApprovalSystem {
	as := &ApprovalSystem{}
	for _, opt := range opts {
		opt(as)
	}
	if as.repo == nil {
		as.repo = memory.New()
	}
	if as.registry == nil {
		as.registry = workflow.NewDefaultRegistry()
	}
	if as.notifier == nil {
		as.notifier = notifier.Nop{}
	}
	if as.eventer == nil {
		as.eventer = eventer.Nop{}
	}
	if as.now == nil {
		as.now = time.Now
	}
	if as.newID == nil {
		as.newID = uuid.GetUUID
	}
	return as
}

// GetRepository 获取实例存储
func (as *ApprovalSystem) GetRepository() repository.Repository {
	return as.repo
}

// GetRegistry 获取流程注册表
func (as *ApprovalSystem) GetRegistry() *workflow.Registry {
	return as.registry
}

// GetNotifier 获取通知器
func (as *ApprovalSystem) GetNotifier() notifier.Notifier {
	return as.notifier
}

// GetEventer 获取事件处理器
func (as *ApprovalSystem) GetEventer() eventer.Eventer {
	return as.eventer
}

func (as *ApprovalSystem) Close() error {
	return as.repo.Close()
}

// Submit 提交业务单据审批, 实例从第 1 级开始并固定当前生效的流程版本
func (as *ApprovalSystem) Submit(ctx context.Context, businessType constant.BusinessType, businessID, businessNo, submittedBy string,
	businessData interface{}) (_ *models.ApprovalInstance, err error) {
	ctx, span := tracing.StartSpan(ctx, "approve.Submit",
		attribute.String("business.type", string(businessType)),
		attribute.String("business.id", businessID),
	)
	defer func() { tracing.EndSpan(span, err) }()

	if businessID == "" || submittedBy == "" {
		return nil, errors.Wrap(errs.ErrInvalidArgument, "businessId and submittedBy are required")
	}
	def, err := as.registry.Latest(businessType)
	if err != nil {
		return nil, err
	}
	data, err := encodeBusinessData(businessData)
	if err != nil {
		return nil, err
	}

	instance := &models.ApprovalInstance{
		ID:           as.newID(),
		BusinessType: businessType,
		BusinessID:   businessID,
		BusinessNo:   businessNo,
		BusinessData: data,
		Workflow:     *def,
		CurrentLevel: 1,
		Status:       constant.StatusPending,
		Records:      []models.ApprovalRecord{},
		SubmittedBy:  submittedBy,
		SubmittedAt:  as.now(),
	}
	if err = as.repo.Put(ctx, instance); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("instance.id", instance.ID))
	logger.Infof("提交审批: %s, 业务: %s/%s, 提交人: %s, 流程版本: %d",
		instance.ID, businessType, businessNo, submittedBy, def.Version)

	as.addHistory(ctx, instance, submittedBy, constant.ActionSubmit, "", constant.StatusPending, 1, "提交审批")
	if err := as.eventer.StartEvent(instance, constant.OperateTypeSubmit); err != nil {
		logger.Warnf("开始事件处理失败: %s, %v", instance.ID, err)
	}
	as.notifyCurrentLevel(instance)
	return instance, nil
}

// Decide 当前级别审批人做出决定: 拒绝立即结束, 批准进入下一级或全部通过
func (as *ApprovalSystem) Decide(ctx context.Context, instanceID, actor string, decision constant.Decision,
	comment string) (_ *models.DecisionResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "approve.Decide",
		attribute.String("instance.id", instanceID),
		attribute.String("decision", string(decision)),
	)
	defer func() { tracing.EndSpan(span, err) }()

	if !decision.Valid() {
		return nil, errors.Wrapf(errs.ErrInvalidArgument, "unknown decision %q", decision)
	}
	if actor == "" {
		return nil, errors.Wrap(errs.ErrInvalidArgument, "actor is required")
	}

	var (
		message      string
		decidedLevel int
	)
	updated, err := as.repo.Update(ctx, instanceID, func(instance *models.ApprovalInstance) error {
		if instance.Status != constant.StatusPending {
			return errors.Wrapf(errs.ErrAlreadyFinalized, "instance %s is %s", instance.ID, instance.Status)
		}
		level, ok := instance.Workflow.Level(instance.CurrentLevel)
		if !ok {
			return errors.Wrapf(errs.ErrMisconfiguredWorkflow, "instance %s: level %d not in %s v%d",
				instance.ID, instance.CurrentLevel, instance.Workflow.BusinessType, instance.Workflow.Version)
		}
		if err := as.authorize(ctx, actor, level.Role); err != nil {
			return err
		}

		now := as.now()
		decidedLevel = instance.CurrentLevel
		instance.Records = append(instance.Records, models.ApprovalRecord{
			Level:     instance.CurrentLevel,
			Role:      level.Role,
			Approver:  actor,
			Action:    decision,
			Comment:   comment,
			Timestamp: now,
		})
		switch {
		case decision == constant.DecisionReject:
			instance.Status = constant.StatusRejected
			instance.CompletedAt = &now
			message = MsgRejected
		case instance.CurrentLevel < instance.Workflow.TotalLevels():
			instance.CurrentLevel++
			message = fmt.Sprintf(msgNextLevel, instance.CurrentLevel)
		default:
			instance.Status = constant.StatusApproved
			instance.CompletedAt = &now
			message = MsgAllApproved
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("审批决定: %s, 第%d级, 审批人: %s, 决定: %s, 结果: %s", updated.ID, decidedLevel, actor, decision, message)

	action, operate := constant.ActionApprove, constant.OperateTypeApprove
	if decision == constant.DecisionReject {
		action, operate = constant.ActionReject, constant.OperateTypeReject
	}
	as.addHistory(ctx, updated, actor, action, constant.StatusPending, updated.Status, decidedLevel, comment)

	switch updated.Status {
	case constant.StatusPending:
		as.notifyCurrentLevel(updated)
	case constant.StatusApproved:
		as.endEvent(updated, operate)
		as.notify(updated.SubmittedBy, "审批完成",
			fmt.Sprintf("您提交的%s '%s' 已通过全部审批", updated.BusinessType.Text(), updated.BusinessNo))
	case constant.StatusRejected:
		as.endEvent(updated, operate)
		as.notify(updated.SubmittedBy, "审批被拒绝",
			fmt.Sprintf("您提交的%s '%s' 已被 %s 拒绝: %s", updated.BusinessType.Text(), updated.BusinessNo, actor, comment))
	}
	return &models.DecisionResult{Instance: updated, Message: message}, nil
}

// 审批通过
func (as *ApprovalSystem) Approve(ctx context.Context, instanceID, actor, comment string) (*models.DecisionResult, error) {
	return as.Decide(ctx, instanceID, actor, constant.DecisionApprove, comment)
}

// 审批拒绝
func (as *ApprovalSystem) Reject(ctx context.Context, instanceID, actor, comment string) (*models.DecisionResult, error) {
	return as.Decide(ctx, instanceID, actor, constant.DecisionReject, comment)
}

// Cancel 提交人撤销待审批的实例
func (as *ApprovalSystem) Cancel(ctx context.Context, instanceID, actor string) (_ string, err error) {
	ctx, span := tracing.StartSpan(ctx, "approve.Cancel", attribute.String("instance.id", instanceID))
	defer func() { tracing.EndSpan(span, err) }()

	var level int
	updated, err := as.repo.Update(ctx, instanceID, func(instance *models.ApprovalInstance) error {
		if instance.SubmittedBy != actor {
			return errors.Wrapf(errs.ErrNotSubmitter, "%s cannot cancel instance %s", actor, instance.ID)
		}
		if instance.Status != constant.StatusPending {
			return errors.Wrapf(errs.ErrInvalidState, "cannot cancel instance %s in %s state", instance.ID, instance.Status)
		}
		now := as.now()
		level = instance.CurrentLevel
		instance.Status = constant.StatusCancelled
		instance.CompletedAt = &now
		return nil
	})
	if err != nil {
		return "", err
	}
	logger.Infof("撤销审批: %s, 操作人: %s", updated.ID, actor)

	as.addHistory(ctx, updated, actor, constant.ActionCancel, constant.StatusPending, constant.StatusCancelled, level, "用户撤销审批")
	as.endEvent(updated, constant.OperateTypeCancel)
	if l, ok := updated.Workflow.Level(level); ok {
		as.notify(string(l.Role), "审批已撤销",
			fmt.Sprintf("%s '%s' 已被提交人撤销", updated.BusinessType.Text(), updated.BusinessNo))
	}
	return MsgCancelled, nil
}

func (as *ApprovalSystem) authorize(ctx context.Context, actor string, role constant.Role) error {
	if as.roles == nil {
		return nil
	}
	roles, err := as.roles.RolesOf(ctx, actor)
	if err != nil {
		return errors.Wrapf(err, "resolve roles of %s", actor)
	}
	if !hasRole(roles, role) {
		return errors.Wrapf(errs.ErrForbidden, "%s does not hold role %s", actor, role)
	}
	return nil
}

// addHistory 历史记录失败不影响已提交的状态变更
func (as *ApprovalSystem) addHistory(ctx context.Context, instance *models.ApprovalInstance, operator string,
	action constant.HistoryAction, from, to constant.ApprovalStatus, level int, comment string) {
	h := &models.ApprovalHistory{
		InstanceID:   instance.ID,
		BusinessType: instance.BusinessType,
		BusinessID:   instance.BusinessID,
		Operator:     operator,
		Action:       action,
		FromStatus:   from,
		ToStatus:     to,
		Level:        level,
		Comment:      comment,
		CreatedAt:    as.now(),
	}
	if err := as.repo.AppendHistory(ctx, h); err != nil {
		logger.Warnf("添加审批历史记录失败: %s, action=%s, %v", instance.ID, action, err)
	}
}

func (as *ApprovalSystem) endEvent(instance *models.ApprovalInstance, operateType constant.OperateType) {
	if err := as.eventer.EndEvent(instance, operateType); err != nil {
		logger.Warnf("结束事件处理失败: %s, %v", instance.ID, err)
	}
}

// notifyCurrentLevel 通知当前级别的审批角色
func (as *ApprovalSystem) notifyCurrentLevel(instance *models.ApprovalInstance) {
	level, ok := instance.Workflow.Level(instance.CurrentLevel)
	if !ok {
		return
	}
	as.notify(string(level.Role), "新的审批请求",
		fmt.Sprintf("您有一个新的%s审批需要处理: %s (第%d级 %s)",
			instance.BusinessType.Text(), instance.BusinessNo, level.Level, level.Name))
}

func (as *ApprovalSystem) notify(to, subject, message string) {
	if err := as.notifier.SendNotification(to, subject, message); err != nil {
		logger.Warnf("发送通知失败: to=%s, subject=%s, %v", to, subject, err)
	}
}

// encodeBusinessData 业务数据以 JSON 快照保存
func encodeBusinessData(v interface{}) (json.RawMessage, error) {
	switch d := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(d) == 0 {
			return nil, nil
		}
		if !json.Valid(d) {
			return nil, errors.Wrap(errs.ErrInvalidArgument, "businessData is not valid JSON")
		}
		return append(json.RawMessage(nil), d...), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(errs.ErrInvalidArgument, "encode businessData: %v", err)
	}
	return data, nil
}
