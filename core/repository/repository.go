package repository

import (
	"context"

	"github.com/hellobchain/limsflow/common/constant"
	"github.com/hellobchain/limsflow/common/models"
)

// MutateFunc 在实例的互斥区内修改实例. 返回错误时不写入任何变更.
type MutateFunc func(instance *models.ApprovalInstance) error

// Repository 审批实例存储.
//
// Update 必须保证同一实例上的并发调用串行执行; Put 必须原子地保证
// 同一 BusinessID 至多存在一个 pending 实例, 否则返回 errs.ErrDuplicateSubmission.
// 所有返回的实例都是副本.
type Repository interface {
	Get(ctx context.Context, id string) (*models.ApprovalInstance, error)
	Put(ctx context.Context, instance *models.ApprovalInstance) error
	Update(ctx context.Context, id string, fn MutateFunc) (*models.ApprovalInstance, error)
	// Query 按提交时间升序 (Newest 时倒序) 返回满足 filter 的实例
	Query(ctx context.Context, filter Filter) ([]*models.ApprovalInstance, error)

	AppendHistory(ctx context.Context, history *models.ApprovalHistory) error
	// History 按时间升序返回实例的历史记录
	History(ctx context.Context, instanceID string) ([]*models.ApprovalHistory, error)
	// OperatorHistory 按时间倒序返回操作人最近的历史记录
	OperatorHistory(ctx context.Context, operator string, limit int) ([]*models.ApprovalHistory, error)

	Close() error
}

// Filter 零值字段不参与过滤. Match 在存储层条件之后执行, 分页在 Match 之后.
type Filter struct {
	Statuses     []constant.ApprovalStatus
	BusinessType constant.BusinessType
	BusinessID   string
	SubmittedBy  string
	// CurrentRole 当前级别的审批角色, 以实例的流程快照为准
	CurrentRole constant.Role
	Match       func(instance *models.ApprovalInstance) bool

	Newest bool
	Offset int
	Limit  int // <= 0 不限制
}

// Matches 判断实例是否满足过滤条件, 供不支持下推查询的实现使用
func (f *Filter) Matches(instance *models.ApprovalInstance) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if instance.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.BusinessType != "" && instance.BusinessType != f.BusinessType {
		return false
	}
	if f.BusinessID != "" && instance.BusinessID != f.BusinessID {
		return false
	}
	if f.SubmittedBy != "" && instance.SubmittedBy != f.SubmittedBy {
		return false
	}
	if f.CurrentRole != "" {
		if role, ok := instance.CurrentRole(); !ok || role != f.CurrentRole {
			return false
		}
	}
	if f.Match != nil && !f.Match(instance) {
		return false
	}
	return true
}

// Page 按 Offset/Limit 截取已排序的结果
func (f *Filter) Page(list []*models.ApprovalInstance) []*models.ApprovalInstance {
	if f.Offset > 0 {
		if f.Offset >= len(list) {
			return list[:0]
		}
		list = list[f.Offset:]
	}
	if f.Limit > 0 && len(list) > f.Limit {
		list = list[:f.Limit]
	}
	return list
}

// CheckAppendOnly 校验一次修改没有改写已有审批记录, 且级别没有回退
func CheckAppendOnly(before, after *models.ApprovalInstance) bool {
	if len(after.Records) < len(before.Records) || after.CurrentLevel < before.CurrentLevel {
		return false
	}
	for i := range before.Records {
		if before.Records[i] != after.Records[i] {
			return false
		}
	}
	return true
}
