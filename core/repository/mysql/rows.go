package mysql

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hellobchain/limsflow/common/constant"
	"github.com/hellobchain/limsflow/common/models"
	"github.com/pkg/errors"
)

const instanceColumns = `id, business_type, business_id, business_no, business_data, workflow,
	current_level, status, submitted_by, submitted_at, completed_at, version`

const historyColumns = `id, instance_id, business_type, business_id, operator, action,
	from_status, to_status, level, comment, created_at`

type instanceRow struct {
	ID           string         `db:"id"`
	BusinessType string         `db:"business_type"`
	BusinessID   string         `db:"business_id"`
	BusinessNo   string         `db:"business_no"`
	BusinessData sql.NullString `db:"business_data"`
	Workflow     string         `db:"workflow"` // 流程快照 JSON
	CurrentLevel int            `db:"current_level"`
	Status       string         `db:"status"`
	SubmittedBy  string         `db:"submitted_by"`
	SubmittedAt  time.Time      `db:"submitted_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
	Version      int64          `db:"version"`
}

func (r *instanceRow) toModel() (*models.ApprovalInstance, error) {
	inst := &models.ApprovalInstance{
		ID:           r.ID,
		BusinessType: constant.BusinessType(r.BusinessType),
		BusinessID:   r.BusinessID,
		BusinessNo:   r.BusinessNo,
		CurrentLevel: r.CurrentLevel,
		Status:       constant.ApprovalStatus(r.Status),
		SubmittedBy:  r.SubmittedBy,
		SubmittedAt:  r.SubmittedAt,
		Version:      r.Version,
	}
	if r.BusinessData.Valid && r.BusinessData.String != "" {
		inst.BusinessData = json.RawMessage(r.BusinessData.String)
	}
	if err := json.Unmarshal([]byte(r.Workflow), &inst.Workflow); err != nil {
		return nil, errors.Wrapf(err, "decode workflow snapshot of %s", r.ID)
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		inst.CompletedAt = &t
	}
	return inst, nil
}

type recordRow struct {
	InstanceID string         `db:"instance_id"`
	Level      int            `db:"level"`
	Role       string         `db:"role"`
	Approver   string         `db:"approver"`
	Action     string         `db:"action"`
	Comment    sql.NullString `db:"comment"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (r *recordRow) toModel() models.ApprovalRecord {
	return models.ApprovalRecord{
		Level:     r.Level,
		Role:      constant.Role(r.Role),
		Approver:  r.Approver,
		Action:    constant.Decision(r.Action),
		Comment:   r.Comment.String,
		Timestamp: r.CreatedAt,
	}
}

// toRecords 没有记录时返回空切片而不是 nil
func toRecords(rows []recordRow) []models.ApprovalRecord {
	records := make([]models.ApprovalRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].toModel())
	}
	return records
}

type historyRow struct {
	ID           int64          `db:"id"`
	InstanceID   string         `db:"instance_id"`
	BusinessType string         `db:"business_type"`
	BusinessID   string         `db:"business_id"`
	Operator     string         `db:"operator"`
	Action       string         `db:"action"`
	FromStatus   string         `db:"from_status"`
	ToStatus     string         `db:"to_status"`
	Level        int            `db:"level"`
	Comment      sql.NullString `db:"comment"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r *historyRow) toModel() *models.ApprovalHistory {
	return &models.ApprovalHistory{
		ID:           r.ID,
		InstanceID:   r.InstanceID,
		BusinessType: constant.BusinessType(r.BusinessType),
		BusinessID:   r.BusinessID,
		Operator:     r.Operator,
		Action:       constant.HistoryAction(r.Action),
		FromStatus:   constant.ApprovalStatus(r.FromStatus),
		ToStatus:     constant.ApprovalStatus(r.ToStatus),
		Level:        r.Level,
		Comment:      r.Comment.String,
		CreatedAt:    r.CreatedAt,
	}
}
