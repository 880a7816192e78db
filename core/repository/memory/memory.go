// Package memory 进程内审批实例存储, 所有操作由一把读写锁串行化.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/hellobchain/limsflow/common/constant"
	"github.com/hellobchain/limsflow/common/errs"
	"github.com/hellobchain/limsflow/common/models"
	"github.com/hellobchain/limsflow/core/repository"
	"github.com/pkg/errors"
)

type Store struct {
	mu        sync.RWMutex
	instances map[string]*models.ApprovalInstance
	order     []string // 插入顺序
	history   []*models.ApprovalHistory
	nextID    int64
}

var _ repository.Repository = (*Store)(nil)

func New() *Store {
	return &Store{instances: make(map[string]*models.ApprovalInstance)}
}

func (s *Store) Get(_ context.Context, id string) (*models.ApprovalInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, errors.Wrapf(errs.ErrInstanceNotFound, "instance %s", id)
	}
	return inst.Clone(), nil
}

func (s *Store) Put(_ context.Context, instance *models.ApprovalInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[instance.ID]; ok {
		return errors.Errorf("instance %s already exists", instance.ID)
	}
	if instance.Status == constant.StatusPending {
		for _, existing := range s.instances {
			if existing.BusinessID == instance.BusinessID && existing.Status == constant.StatusPending {
				return errors.Wrapf(errs.ErrDuplicateSubmission, "business %s has pending instance %s", instance.BusinessID, existing.ID)
			}
		}
	}
	s.instances[instance.ID] = instance.Clone()
	s.order = append(s.order, instance.ID)
	return nil
}

func (s *Store) Update(_ context.Context, id string, fn repository.MutateFunc) (*models.ApprovalInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.instances[id]
	if !ok {
		return nil, errors.Wrapf(errs.ErrInstanceNotFound, "instance %s", id)
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	if working.ID != current.ID || !repository.CheckAppendOnly(current, working) {
		return nil, errors.Errorf("instance %s: illegal mutation", id)
	}
	working.Version = current.Version + 1
	s.instances[id] = working
	return working.Clone(), nil
}

func (s *Store) Query(_ context.Context, filter repository.Filter) ([]*models.ApprovalInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*models.ApprovalInstance
	for _, id := range s.order {
		inst := s.instances[id]
		if filter.Matches(inst) {
			matched = append(matched, inst)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if filter.Newest {
			a, b = b, a
		}
		if a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.ID < b.ID
		}
		return a.SubmittedAt.Before(b.SubmittedAt)
	})
	matched = filter.Page(matched)
	out := make([]*models.ApprovalInstance, 0, len(matched))
	for _, inst := range matched {
		out = append(out, inst.Clone())
	}
	return out, nil
}

func (s *Store) AppendHistory(_ context.Context, history *models.ApprovalHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	h := *history
	h.ID = s.nextID
	history.ID = h.ID
	s.history = append(s.history, &h)
	return nil
}

func (s *Store) History(_ context.Context, instanceID string) ([]*models.ApprovalHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ApprovalHistory
	for _, h := range s.history {
		if h.InstanceID == instanceID {
			c := *h
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) OperatorHistory(_ context.Context, operator string, limit int) ([]*models.ApprovalHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ApprovalHistory
	for i := len(s.history) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if s.history[i].Operator == operator {
			c := *s.history[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) Close() error { return nil }
