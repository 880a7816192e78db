package mysql

import (
	"embed"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
)

//go:embed migrations/*.sql
var migrations embed.FS

func newMigrate(dsn string) (*migrate.Migrate, error) {
	dsn, err := normalizeDSN(dsn)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, "load migrations")
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "mysql://"+dsn)
	if err != nil {
		return nil, errors.Wrap(err, "init migrations")
	}
	return m, nil
}

// Migrate 执行所有未应用的迁移
func Migrate(dsn string) error {
	m, err := newMigrate(dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "apply migrations")
	}
	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return errors.Wrap(err, "migration version")
	}
	logger.Infof("数据库迁移完成, version=%d, dirty=%v", version, dirty)
	return nil
}

// MigrateDown 回滚所有迁移, 仅用于测试与运维
func MigrateDown(dsn string) error {
	m, err := newMigrate(dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Down(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "revert migrations")
	}
	return nil
}
