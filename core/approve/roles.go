package approve

import (
	"context"

	"github.com/hellobchain/limsflow/common/constant"
	"github.com/pkg/errors"
)

// RoleResolver 查询操作人持有的审批角色. 配置后 Decide 要求操作人持有当前级别的角色.
type RoleResolver interface {
	RolesOf(ctx context.Context, actor string) ([]constant.Role, error)
}

// StaticRoles 固定的 操作人 -> 角色 映射
type StaticRoles map[string][]constant.Role

func (s StaticRoles) RolesOf(_ context.Context, actor string) ([]constant.Role, error) {
	return s[actor], nil
}

// NewStaticRoles 由配置中的角色分配构造, 未知角色返回错误
func NewStaticRoles(assignments map[string][]string) (StaticRoles, error) {
	out := make(StaticRoles, len(assignments))
	for actor, roles := range assignments {
		for _, r := range roles {
			role := constant.Role(r)
			if !role.Valid() {
				return nil, errors.Errorf("unknown role %q assigned to %s", r, actor)
			}
			out[actor] = append(out[actor], role)
		}
	}
	return out, nil
}

func hasRole(roles []constant.Role, want constant.Role) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}
