// Package errs 审批引擎的错误类型.
//
// 每一种错误都是一个哨兵值, 调用方通过 errors.Is 判断类型,
// 引擎内部使用 github.com/pkg/errors 附加上下文.
package errs

import (
	"github.com/pkg/errors"
)

var (
	ErrUnknownWorkflow       = errors.New("unknown workflow")
	ErrInstanceNotFound      = errors.New("approval instance not found")
	ErrAlreadyFinalized      = errors.New("approval instance already finalized")
	ErrForbidden             = errors.New("operation forbidden")
	ErrInvalidState          = errors.New("invalid instance state")
	ErrMisconfiguredWorkflow = errors.New("misconfigured workflow")
	ErrDuplicateSubmission   = errors.New("duplicate submission")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrInvalidDefinition     = errors.New("invalid workflow definition")
	ErrConcurrentUpdate      = errors.New("concurrent update")

	// ErrNotSubmitter 只有提交人可以撤销, 属于 ErrForbidden
	ErrNotSubmitter = errors.WithMessage(ErrForbidden, "not the submitter")
	// ErrWorkflowDisabled 流程已停用, 属于 ErrUnknownWorkflow
	ErrWorkflowDisabled = errors.WithMessage(ErrUnknownWorkflow, "workflow disabled")
)

var messages = []struct {
	err error
	msg string
}{
	{ErrNotSubmitter, "只能撤销自己提交的审批"},
	{ErrWorkflowDisabled, "该审批流程已停用"},
	{ErrUnknownWorkflow, "未找到对应的审批流程配置"},
	{ErrInstanceNotFound, "审批实例不存在"},
	{ErrAlreadyFinalized, "该审批已完成"},
	{ErrForbidden, "无权执行该操作"},
	{ErrInvalidState, "只能撤销待审批的单据"},
	{ErrMisconfiguredWorkflow, "审批级别配置错误"},
	{ErrDuplicateSubmission, "该单据已有进行中的审批"},
	{ErrInvalidArgument, "参数错误"},
	{ErrInvalidDefinition, "审批流程配置不合法"},
	{ErrConcurrentUpdate, "审批状态已变化, 请刷新后重试"},
}

// Message 返回展示给用户的提示信息
func Message(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range messages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return "系统错误"
}
