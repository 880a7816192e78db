package workflow

import (
	"github.com/hellobchain/limsflow/common/constant"
	"github.com/hellobchain/limsflow/common/models"
)

// Defaults 内置审批流程
func Defaults() []models.WorkflowDefinition {
	return []models.WorkflowDefinition{
		{
			BusinessType: constant.BusinessQuotation,
			Name:         "报价单审批",
			Levels: []models.Level{
				{Level: 1, Role: constant.RoleSalesManager, Name: "销售经理"},
				{Level: 2, Role: constant.RoleFinance, Name: "财务"},
				{Level: 3, Role: constant.RoleLabDirector, Name: "实验室负责人"},
			},
		},
		{
			BusinessType: constant.BusinessReport,
			Name:         "报告审批",
			Levels: []models.Level{
				{Level: 1, Role: constant.RoleTechnicalDirector, Name: "技术负责人"},
				{Level: 2, Role: constant.RoleQualityManager, Name: "质量负责人"},
				{Level: 3, Role: constant.RoleLabDirector, Name: "实验室负责人"},
			},
		},
		{
			BusinessType: constant.BusinessContract,
			Name:         "合同审批",
			Levels: []models.Level{
				{Level: 1, Role: constant.RoleSalesManager, Name: "销售经理"},
				{Level: 2, Role: constant.RoleLabDirector, Name: "实验室负责人"},
			},
		},
		{
			BusinessType: constant.BusinessOutsourcing,
			Name:         "委外审批",
			Levels: []models.Level{
				{Level: 1, Role: constant.RoleTechnicalDirector, Name: "技术负责人"},
				{Level: 2, Role: constant.RoleLabDirector, Name: "实验室负责人"},
			},
		},
	}
}
