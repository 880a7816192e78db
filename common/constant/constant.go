package constant

// 审批状态
type ApprovalStatus string

const (
	StatusPending   ApprovalStatus = "pending"
	StatusApproved  ApprovalStatus = "approved"
	StatusRejected  ApprovalStatus = "rejected"
	StatusCancelled ApprovalStatus = "cancelled"
)

// Valid 是否为已知状态
func (s ApprovalStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal 终态不再发生任何变更
func (s ApprovalStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// TerminalStatuses 所有终态
var TerminalStatuses = []ApprovalStatus{StatusApproved, StatusRejected, StatusCancelled}

// Decision 审批人的决定
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// HistoryAction 历史操作类型
type HistoryAction string

const (
	ActionSubmit  HistoryAction = "submit"
	ActionApprove HistoryAction = "approve"
	ActionReject  HistoryAction = "reject"
	ActionCancel  HistoryAction = "cancel"
)

// OperateType 事件处理器收到的操作类型
type OperateType string

const (
	OperateTypeSubmit  OperateType = "submit"
	OperateTypeApprove OperateType = "approve"
	OperateTypeReject  OperateType = "reject"
	OperateTypeCancel  OperateType = "cancel"
)

// BusinessType 业务类型, 决定使用哪一个审批流程
type BusinessType string

const (
	BusinessQuotation   BusinessType = "quotation"
	BusinessReport      BusinessType = "report"
	BusinessContract    BusinessType = "contract"
	BusinessOutsourcing BusinessType = "outsourcing"
)

var businessTypeText = map[BusinessType]string{
	BusinessQuotation:   "报价单",
	BusinessReport:      "报告",
	BusinessContract:    "合同",
	BusinessOutsourcing: "委外",
}

// BusinessTypes 所有业务类型, 按固定顺序
var BusinessTypes = []BusinessType{BusinessQuotation, BusinessReport, BusinessContract, BusinessOutsourcing}

func (t BusinessType) Valid() bool {
	_, ok := businessTypeText[t]
	return ok
}

// Text 业务类型显示名称
func (t BusinessType) Text() string {
	return businessTypeText[t]
}

// Role 审批角色
type Role string

const (
	RoleSalesManager      Role = "sales_manager"
	RoleFinance           Role = "finance"
	RoleLabDirector       Role = "lab_director"
	RoleTechnicalDirector Role = "technical_director"
	RoleQualityManager    Role = "quality_manager"
)

var roleText = map[Role]string{
	RoleSalesManager:      "销售经理",
	RoleFinance:           "财务",
	RoleLabDirector:       "实验室负责人",
	RoleTechnicalDirector: "技术负责人",
	RoleQualityManager:    "质量负责人",
}

// Roles 所有审批角色
var Roles = []Role{RoleSalesManager, RoleFinance, RoleLabDirector, RoleTechnicalDirector, RoleQualityManager}

func (r Role) Valid() bool {
	_, ok := roleText[r]
	return ok
}

// Text 角色显示名称
func (r Role) Text() string {
	return roleText[r]
}
