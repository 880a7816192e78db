// Package mysql 基于 MySQL 的审批实例存储.
//
// 实例修改在事务内通过 SELECT ... FOR UPDATE 加行锁, 写回时再校验 version;
// 同一业务单据的唯一 pending 实例由 active_business_id 唯一索引保证,
// 实例进入终态后该列置为 NULL.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/hellobchain/limsflow/common/config"
	"github.com/hellobchain/limsflow/common/constant"
	"github.com/hellobchain/limsflow/common/errs"
	"github.com/hellobchain/limsflow/common/models"
	"github.com/hellobchain/limsflow/core/repository"
	"github.com/hellobchain/wswlog/wlogging"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

var logger = wlogging.MustGetLoggerWithoutName()

const (
	errDupEntry         = 1062
	activeBusinessIndex = "uk_active_business"
)

type Store struct {
	db *sqlx.DB
}

var _ repository.Repository = (*Store)(nil)

// NewDb 打开连接池并测试连通性
func NewDb(ctx context.Context, cfg config.StoreConfig) (*sql.DB, error) {
	dsn, err := normalizeDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	// 测试数据库连接
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping mysql")
	}
	return db, nil
}

// normalizeDSN 强制 parseTime 与 UTC, 时间列才能直接扫描为 time.Time
func normalizeDSN(dsn string) (string, error) {
	c, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return "", errors.Wrap(err, "parse mysql dsn")
	}
	c.ParseTime = true
	c.Loc = time.UTC
	return c.FormatDSN(), nil
}

// Open 连接数据库并执行未应用的迁移
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	if err := Migrate(cfg.DSN); err != nil {
		return nil, err
	}
	db, err := NewDb(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "mysql")}
}

// GetDb 获取数据库连接
func (s *Store) GetDb() *sql.DB {
	return s.db.DB
}

func (s *Store) Get(ctx context.Context, id string) (*models.ApprovalInstance, error) {
	return loadInstance(ctx, s.db, id, false)
}

func (s *Store) Put(ctx context.Context, instance *models.ApprovalInstance) (err error) {
	workflow, err := json.Marshal(instance.Workflow)
	if err != nil {
		return errors.Wrap(err, "marshal workflow snapshot")
	}
	// 开启事务
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO approval_instances (id, business_type, business_id, business_no, business_data, workflow,
			current_level, level_role, status, submitted_by, submitted_at, completed_at, active_business_id, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		instance.ID, string(instance.BusinessType), instance.BusinessID, instance.BusinessNo,
		nullJSON(instance.BusinessData), string(workflow), instance.CurrentLevel, levelRole(instance), string(instance.Status),
		instance.SubmittedBy, instance.SubmittedAt.UTC(), nullTime(instance.CompletedAt),
		activeBusinessID(instance), instance.Version, time.Now().UTC())
	if err != nil {
		if isDuplicateActive(err) {
			return errors.Wrapf(errs.ErrDuplicateSubmission, "business %s", instance.BusinessID)
		}
		return errors.Wrapf(err, "insert instance %s", instance.ID)
	}
	if err = insertRecords(ctx, tx, instance.ID, 0, instance.Records); err != nil {
		return err
	}
	// 提交事务
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

func (s *Store) Update(ctx context.Context, id string, fn repository.MutateFunc) (_ *models.ApprovalInstance, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	current, err := loadInstance(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	working := current.Clone()
	if err = fn(working); err != nil {
		return nil, err
	}
	if working.ID != current.ID || !repository.CheckAppendOnly(current, working) {
		err = errors.Errorf("instance %s: illegal mutation", id)
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE approval_instances
		SET current_level = ?, level_role = ?, status = ?, completed_at = ?, active_business_id = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		working.CurrentLevel, levelRole(working), string(working.Status), nullTime(working.CompletedAt), activeBusinessID(working),
		time.Now().UTC(), id, current.Version)
	if err != nil {
		if isDuplicateActive(err) {
			err = errors.Wrapf(errs.ErrDuplicateSubmission, "business %s", working.BusinessID)
			return nil, err
		}
		return nil, errors.Wrapf(err, "update instance %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		err = errors.Wrapf(errs.ErrConcurrentUpdate, "instance %s version %d", id, current.Version)
		return nil, err
	}
	if err = insertRecords(ctx, tx, id, len(current.Records), working.Records[len(current.Records):]); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	working.Version = current.Version + 1
	return working, nil
}

func (s *Store) Query(ctx context.Context, filter repository.Filter) ([]*models.ApprovalInstance, error) {
	var (
		where []string
		args  []interface{}
	)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "status IN (?)")
		args = append(args, statuses)
	}
	if filter.BusinessType != "" {
		where = append(where, "business_type = ?")
		args = append(args, string(filter.BusinessType))
	}
	if filter.BusinessID != "" {
		where = append(where, "business_id = ?")
		args = append(args, filter.BusinessID)
	}
	if filter.SubmittedBy != "" {
		where = append(where, "submitted_by = ?")
		args = append(args, filter.SubmittedBy)
	}
	if filter.CurrentRole != "" {
		where = append(where, "level_role = ?")
		args = append(args, string(filter.CurrentRole))
	}
	query := "SELECT " + instanceColumns + " FROM approval_instances"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.Newest {
		query += " ORDER BY submitted_at DESC, id DESC"
	} else {
		query += " ORDER BY submitted_at, id"
	}
	// Match 在进程内执行, 此时只能在过滤之后分页
	pushdown := filter.Match == nil && filter.Limit > 0
	if pushdown {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	// 展开 status IN (?)
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "expand status filter")
	}
	var rows []instanceRow
	if err = sqlx.SelectContext(ctx, s.db, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "query instances")
	}
	list := make([]*models.ApprovalInstance, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for i := range rows {
		inst, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		list = append(list, inst)
		ids = append(ids, inst.ID)
	}
	records, err := loadRecordsOf(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}

	out := list[:0]
	for _, inst := range list {
		inst.Records = records[inst.ID]
		if inst.Records == nil {
			inst.Records = []models.ApprovalRecord{}
		}
		if filter.Match != nil && !filter.Match(inst) {
			continue
		}
		out = append(out, inst)
	}
	if !pushdown {
		out = filter.Page(out)
	}
	return out, nil
}

func (s *Store) AppendHistory(ctx context.Context, history *models.ApprovalHistory) error {
	logger.Debugf("添加审批历史记录: instance=%s, operator=%s, action=%s, %s -> %s",
		history.InstanceID, history.Operator, history.Action, history.FromStatus, history.ToStatus)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO approval_history
		(instance_id, business_type, business_id, operator, action, from_status, to_status, level, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		history.InstanceID, string(history.BusinessType), history.BusinessID, history.Operator, string(history.Action),
		string(history.FromStatus), string(history.ToStatus), history.Level, history.Comment, history.CreatedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "insert history")
	}
	if history.ID, err = res.LastInsertId(); err != nil {
		return errors.Wrap(err, "history id")
	}
	return nil
}

// History 获取审批实例的历史记录
func (s *Store) History(ctx context.Context, instanceID string) ([]*models.ApprovalHistory, error) {
	return s.queryHistory(ctx, `
		SELECT `+historyColumns+`
		FROM approval_history
		WHERE instance_id = ?
		ORDER BY id`, instanceID)
}

// OperatorHistory 获取用户参与的审批历史
func (s *Store) OperatorHistory(ctx context.Context, operator string, limit int) ([]*models.ApprovalHistory, error) {
	query := `
		SELECT ` + historyColumns + `
		FROM approval_history
		WHERE operator = ?
		ORDER BY id DESC`
	args := []interface{}{operator}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryHistory(ctx, query, args...)
}

func (s *Store) queryHistory(ctx context.Context, query string, args ...interface{}) ([]*models.ApprovalHistory, error) {
	var rows []historyRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	history := make([]*models.ApprovalHistory, 0, len(rows))
	for i := range rows {
		history = append(history, rows[i].toModel())
	}
	return history, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func loadInstance(ctx context.Context, q sqlx.QueryerContext, id string, forUpdate bool) (*models.ApprovalInstance, error) {
	query := "SELECT " + instanceColumns + " FROM approval_instances WHERE id = ?"
	if forUpdate {
		query += " FOR UPDATE"
	}
	var row instanceRow
	if err := sqlx.GetContext(ctx, q, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errs.ErrInstanceNotFound, "instance %s", id)
		}
		return nil, errors.Wrapf(err, "load instance %s", id)
	}
	inst, err := row.toModel()
	if err != nil {
		return nil, err
	}
	if inst.Records, err = loadRecords(ctx, q, id); err != nil {
		return nil, err
	}
	return inst, nil
}

func loadRecords(ctx context.Context, q sqlx.QueryerContext, instanceID string) ([]models.ApprovalRecord, error) {
	var rows []recordRow
	err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT instance_id, level, role, approver, action, comment, created_at
		FROM approval_records
		WHERE instance_id = ?
		ORDER BY seq`, instanceID)
	if err != nil {
		return nil, errors.Wrap(err, "query records")
	}
	return toRecords(rows), nil
}

// loadRecordsOf 一次查询多个实例的审批记录, 按实例分组
func loadRecordsOf(ctx context.Context, q sqlx.QueryerContext, instanceIDs []string) (map[string][]models.ApprovalRecord, error) {
	out := make(map[string][]models.ApprovalRecord, len(instanceIDs))
	if len(instanceIDs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`
		SELECT instance_id, level, role, approver, action, comment, created_at
		FROM approval_records
		WHERE instance_id IN (?)
		ORDER BY instance_id, seq`, instanceIDs)
	if err != nil {
		return nil, errors.Wrap(err, "expand instance ids")
	}
	var rows []recordRow
	if err = sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "query records")
	}
	for i := range rows {
		out[rows[i].InstanceID] = append(out[rows[i].InstanceID], rows[i].toModel())
	}
	return out, nil
}

func insertRecords(ctx context.Context, tx *sqlx.Tx, instanceID string, offset int, records []models.ApprovalRecord) error {
	for i, r := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO approval_records (instance_id, seq, level, role, approver, action, comment, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			instanceID, offset+i+1, r.Level, string(r.Role), r.Approver, string(r.Action), r.Comment, r.Timestamp.UTC())
		if err != nil {
			return errors.Wrapf(err, "insert record %d of %s", offset+i+1, instanceID)
		}
	}
	return nil
}

// levelRole 当前级别的角色, 终态实例同样保留最后所在级别的角色
func levelRole(instance *models.ApprovalInstance) string {
	role, _ := instance.CurrentRole()
	return string(role)
}

// activeBusinessID 仅 pending 实例占用唯一索引
func activeBusinessID(instance *models.ApprovalInstance) interface{} {
	if instance.Status == constant.StatusPending {
		return instance.BusinessID
	}
	return nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullJSON(data json.RawMessage) interface{} {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}

func isDuplicateActive(err error) bool {
	var me *gomysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == errDupEntry && strings.Contains(me.Message, activeBusinessIndex)
}
