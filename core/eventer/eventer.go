package eventer

import (
	"github.com/hellobchain/limsflow/common/constant"
	"github.com/hellobchain/limsflow/common/models"
	"github.com/hellobchain/wswlog/wlogging"
	"github.com/pkg/errors"
)

var logger = wlogging.MustGetLoggerWithoutName()

// Eventer 审批实例生命周期事件. StartEvent 在提交后触发,
// EndEvent 在实例进入终态后触发.
type Eventer interface {
	EndEvent(instance *models.ApprovalInstance, operateType constant.OperateType) error
	StartEvent(instance *models.ApprovalInstance, operateType constant.OperateType) error
}

// Multi 依次分发给所有事件处理器, 返回第一个错误
type Multi []Eventer

func (m Multi) StartEvent(instance *models.ApprovalInstance, operateType constant.OperateType) error {
	var first error
	for _, e := range m {
		if err := e.StartEvent(instance, operateType); err != nil && first == nil {
			first = errors.Wrapf(err, "start event %T", e)
		}
	}
	return first
}

func (m Multi) EndEvent(instance *models.ApprovalInstance, operateType constant.OperateType) error {
	var first error
	for _, e := range m {
		if err := e.EndEvent(instance, operateType); err != nil && first == nil {
			first = errors.Wrapf(err, "end event %T", e)
		}
	}
	return first
}

// LogEventer 记录开始/结束事件
type LogEventer struct{}

func (LogEventer) StartEvent(instance *models.ApprovalInstance, operateType constant.OperateType) error {
	logger.Infof("开始事件: %s, 业务: %s/%s, 操作: %s", instance.ID, instance.BusinessType, instance.BusinessNo, operateType)
	return nil
}

func (LogEventer) EndEvent(instance *models.ApprovalInstance, operateType constant.OperateType) error {
	logger.Infof("结束事件: %s, 状态: %s, 操作: %s", instance.ID, instance.Status, operateType)
	return nil
}

// Nop 忽略所有事件
type Nop struct{}

func (Nop) StartEvent(*models.ApprovalInstance, constant.OperateType) error { return nil }
func (Nop) EndEvent(*models.ApprovalInstance, constant.OperateType) error   { return nil }
