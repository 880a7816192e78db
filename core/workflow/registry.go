// Package workflow 管理各业务类型的审批流程定义.
//
// 同一业务类型重复注册会生成新版本, 已提交的审批实例保存提交时的流程快照,
// 不受后续修改影响.
package workflow

import (
	"sort"
	"sync"

	"github.com/hellobchain/limsflow/common/constant"
	"github.com/hellobchain/limsflow/common/errs"
	"github.com/hellobchain/limsflow/common/models"
	"github.com/hellobchain/wswlog/wlogging"
	"github.com/pkg/errors"
)

var logger = wlogging.MustGetLoggerWithoutName()

type Registry struct {
	mu   sync.RWMutex
	defs map[constant.BusinessType][]*models.WorkflowDefinition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[constant.BusinessType][]*models.WorkflowDefinition)}
}

// NewDefaultRegistry 注册内置的四种审批流程
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, def := range Defaults() {
		if _, err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}

// Register 校验并注册流程定义, 返回分配了版本号的副本
func (r *Registry) Register(def models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if err := Validate(&def); err != nil {
		return nil, err
	}
	stored := def.Clone()
	sort.Slice(stored.Levels, func(i, j int) bool { return stored.Levels[i].Level < stored.Levels[j].Level })
	if stored.Name == "" {
		stored.Name = stored.BusinessType.Text() + "审批"
	}
	for i := range stored.Levels {
		if stored.Levels[i].Name == "" {
			stored.Levels[i].Name = stored.Levels[i].Role.Text()
		}
	}

	r.mu.Lock()
	stored.Version = len(r.defs[def.BusinessType]) + 1
	r.defs[def.BusinessType] = append(r.defs[def.BusinessType], &stored)
	r.mu.Unlock()

	logger.Infof("注册审批流程: %s(%s) 版本 %d, 共 %d 级", stored.Name, stored.BusinessType, stored.Version, stored.TotalLevels())
	out := stored.Clone()
	return &out, nil
}

// Latest 返回业务类型当前生效的流程, 流程停用时返回 errs.ErrWorkflowDisabled
func (r *Registry) Latest(businessType constant.BusinessType) (*models.WorkflowDefinition, error) {
	def, err := r.Current(businessType)
	if err != nil {
		return nil, err
	}
	if def.Disabled {
		return nil, errors.Wrapf(errs.ErrWorkflowDisabled, "business type %q", businessType)
	}
	return def, nil
}

// Current 返回业务类型的最新版本, 不论是否停用
func (r *Registry) Current(businessType constant.BusinessType) (*models.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.defs[businessType]
	if len(versions) == 0 {
		return nil, errors.Wrapf(errs.ErrUnknownWorkflow, "business type %q", businessType)
	}
	out := versions[len(versions)-1].Clone()
	return &out, nil
}

// SetDisabled 停用或启用业务类型的最新版本流程.
// 已提交的实例按各自的流程快照继续审批.
func (r *Registry) SetDisabled(businessType constant.BusinessType, disabled bool) (*models.WorkflowDefinition, error) {
	r.mu.Lock()
	versions := r.defs[businessType]
	if len(versions) == 0 {
		r.mu.Unlock()
		return nil, errors.Wrapf(errs.ErrUnknownWorkflow, "business type %q", businessType)
	}
	latest := versions[len(versions)-1]
	latest.Disabled = disabled
	out := latest.Clone()
	r.mu.Unlock()

	if disabled {
		logger.Infof("停用审批流程: %s(%s) 版本 %d", out.Name, out.BusinessType, out.Version)
	} else {
		logger.Infof("启用审批流程: %s(%s) 版本 %d", out.Name, out.BusinessType, out.Version)
	}
	return &out, nil
}

// Version 返回指定版本的流程
func (r *Registry) Version(businessType constant.BusinessType, version int) (*models.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.defs[businessType]
	if version < 1 || version > len(versions) {
		return nil, errors.Wrapf(errs.ErrUnknownWorkflow, "business type %q version %d", businessType, version)
	}
	out := versions[version-1].Clone()
	return &out, nil
}

// List 每种业务类型的最新流程, 按业务类型排序
func (r *Registry) List() []*models.WorkflowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.WorkflowDefinition, 0, len(r.defs))
	for _, versions := range r.defs {
		latest := versions[len(versions)-1].Clone()
		out = append(out, &latest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusinessType < out[j].BusinessType })
	return out
}

// Validate 校验流程定义: 已知业务类型, 至少一级, 级别从 1 开始连续, 角色合法
func Validate(def *models.WorkflowDefinition) error {
	if !def.BusinessType.Valid() {
		return errors.Wrapf(errs.ErrInvalidDefinition, "unknown business type %q", def.BusinessType)
	}
	if len(def.Levels) == 0 {
		return errors.Wrapf(errs.ErrInvalidDefinition, "%s: no levels", def.BusinessType)
	}
	seen := make(map[int]bool, len(def.Levels))
	for _, l := range def.Levels {
		if l.Level < 1 || l.Level > len(def.Levels) {
			return errors.Wrapf(errs.ErrInvalidDefinition, "%s: level %d out of range 1..%d", def.BusinessType, l.Level, len(def.Levels))
		}
		if seen[l.Level] {
			return errors.Wrapf(errs.ErrInvalidDefinition, "%s: duplicate level %d", def.BusinessType, l.Level)
		}
		seen[l.Level] = true
		if !l.Role.Valid() {
			return errors.Wrapf(errs.ErrInvalidDefinition, "%s: level %d has unknown role %q", def.BusinessType, l.Level, l.Role)
		}
	}
	return nil
}
