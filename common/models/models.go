package models

import (
	"encoding/json"
	"time"

	"github.com/hellobchain/limsflow/common/constant"
)

// 审批级别
type Level struct {
	Level int           `json:"level" yaml:"level"`
	Role  constant.Role `json:"role" yaml:"role"`
	Name  string        `json:"name" yaml:"name"`
}

// WorkflowDefinition 某一业务类型的审批流程
type WorkflowDefinition struct {
	BusinessType constant.BusinessType `json:"businessType" yaml:"businessType"`
	Name         string                `json:"name" yaml:"name"`
	Version      int                   `json:"version" yaml:"-"`
	Levels       []Level               `json:"levels" yaml:"levels"`
	// Disabled 停用后不能再提交新的审批
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// TotalLevels 审批级数
func (d *WorkflowDefinition) TotalLevels() int {
	return len(d.Levels)
}

// Level 返回第 n 级的配置
func (d *WorkflowDefinition) Level(n int) (Level, bool) {
	for _, l := range d.Levels {
		if l.Level == n {
			return l, true
		}
	}
	return Level{}, false
}

func (d *WorkflowDefinition) Clone() WorkflowDefinition {
	c := *d
	c.Levels = append([]Level(nil), d.Levels...)
	return c
}

// ApprovalRecord 单次审批决定
type ApprovalRecord struct {
	Level     int               `json:"level"`
	Role      constant.Role     `json:"role"`
	Approver  string            `json:"approver"`
	Action    constant.Decision `json:"action"`
	Comment   string            `json:"comment"`
	Timestamp time.Time         `json:"timestamp"`
}

// ApprovalInstance 审批实例
type ApprovalInstance struct {
	ID           string                  `json:"id"`
	BusinessType constant.BusinessType   `json:"businessType"`
	BusinessID   string                  `json:"businessId"`
	BusinessNo   string                  `json:"businessNo"`
	BusinessData json.RawMessage         `json:"businessData,omitempty"`
	Workflow     WorkflowDefinition      `json:"workflow"` // 提交时的流程快照
	CurrentLevel int                     `json:"currentLevel"`
	Status       constant.ApprovalStatus `json:"status"`
	Records      []ApprovalRecord        `json:"approvalRecords"`
	SubmittedBy  string                  `json:"submittedBy"`
	SubmittedAt  time.Time               `json:"submittedAt"`
	CompletedAt  *time.Time              `json:"completedAt,omitempty"`
	Version      int64                   `json:"version"`
}

// CurrentRole 当前级别对应的审批角色
func (i *ApprovalInstance) CurrentRole() (constant.Role, bool) {
	l, ok := i.Workflow.Level(i.CurrentLevel)
	return l.Role, ok
}

// Clone 深拷贝, 仓库与调用方之间不共享可变状态
func (i *ApprovalInstance) Clone() *ApprovalInstance {
	if i == nil {
		return nil
	}
	c := *i
	c.Workflow = i.Workflow.Clone()
	c.Records = append(make([]ApprovalRecord, 0, len(i.Records)), i.Records...)
	if i.BusinessData != nil {
		c.BusinessData = append(json.RawMessage(nil), i.BusinessData...)
	}
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// DecisionResult 审批操作结果
type DecisionResult struct {
	Instance *ApprovalInstance `json:"instance"`
	Message  string            `json:"message"`
}

// ProgressView 审批进度, 仅用于展示
type ProgressView struct {
	InstanceID       string                  `json:"instanceId"`
	Status           constant.ApprovalStatus `json:"status"`
	TotalLevels      int                     `json:"totalLevels"`
	CurrentLevel     int                     `json:"currentLevel"`
	CompletedLevels  int                     `json:"completedLevels"`
	CurrentLevelName string                  `json:"currentLevelName"`
	Levels           []Level                 `json:"levels"`
	Records          []ApprovalRecord        `json:"records"`
}

// Statistics 审批统计
type Statistics struct {
	Total     int                           `json:"total"`
	Pending   int                           `json:"pending"`
	Approved  int                           `json:"approved"`
	Rejected  int                           `json:"rejected"`
	Cancelled int                           `json:"cancelled"`
	ByType    map[constant.BusinessType]int `json:"byType"`
}

// ApprovalHistory 审批历史记录
type ApprovalHistory struct {
	ID           int64                   `json:"id"`
	InstanceID   string                  `json:"instanceId"`
	BusinessType constant.BusinessType   `json:"businessType"`
	BusinessID   string                  `json:"businessId"`
	Operator     string                  `json:"operator"`
	Action       constant.HistoryAction  `json:"action"`
	FromStatus   constant.ApprovalStatus `json:"fromStatus"`
	ToStatus     constant.ApprovalStatus `json:"toStatus"`
	Level        int                     `json:"level"`
	Comment      string                  `json:"comment"`
	CreatedAt    time.Time               `json:"createdAt"`
}
