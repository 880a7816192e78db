// Package cli 审批引擎的命令行管理工具.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hellobchain/limsflow/common/config"
	"github.com/hellobchain/limsflow/core/approve"
	"github.com/hellobchain/limsflow/core/eventer"
	"github.com/hellobchain/limsflow/core/loggers"
	"github.com/hellobchain/limsflow/core/metrics"
	"github.com/hellobchain/limsflow/core/notifier"
	"github.com/hellobchain/limsflow/core/repository"
	"github.com/hellobchain/limsflow/core/repository/memory"
	mysqlstore "github.com/hellobchain/limsflow/core/repository/mysql"
	"github.com/hellobchain/limsflow/core/tracing"
	"github.com/hellobchain/limsflow/core/workflow"
	"github.com/hellobchain/wswlog/wlogging"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var logger = wlogging.MustGetLoggerWithoutName()

const memoryStoreWarning = "warning: store driver is memory, instances are lost when the command exits; set store.dsn or LIMSFLOW_MYSQL_DSN to persist them"

type app struct {
	cfgFile  string
	cfg      config.Config
	registry *prometheus.Registry // 最近一次组装的审批系统的指标
}

// NewRootCommand 构造根命令
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "limsflow",
		Short:         "LIMS multi-level approval workflow engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (yaml)")

	root.AddCommand(
		newMigrateCmd(a),
		newWorkflowsCmd(a),
		newSubmitCmd(a),
		newDecideCmd(a),
		newCancelCmd(a),
		newPendingCmd(a),
		newCompletedCmd(a),
		newShowCmd(a),
		newProgressCmd(a),
		newStatsCmd(a),
		newHistoryCmd(a),
		newDemoCmd(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	loggers.Setup(cfg.Log)
	return nil
}

// withSystem 按配置组装审批系统执行 fn, 结束后关闭存储并刷新 trace
func (a *app) withSystem(cmd *cobra.Command, fn func(ctx context.Context, system *approve.ApprovalSystem) error) (err error) {
	ctx := cmd.Context()
	shutdown, err := tracing.Setup(a.cfg.Tracing, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if serr := shutdown(ctx); serr != nil {
			logger.Warnf("关闭 tracing 失败: %v", serr)
		}
	}()

	if a.cfg.Store.Driver == config.DriverMemory && cmd.Name() != "demo" {
		// 每条命令都是独立进程, 内存存储的数据不会留给下一条命令
		logger.Warnf("当前使用内存存储, 数据在命令结束后丢失")
		fmt.Fprintln(cmd.ErrOrStderr(), memoryStoreWarning)
	}
	system, err := a.approvalSystem(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := system.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, system)
}

func (a *app) approvalSystem(ctx context.Context) (*approve.ApprovalSystem, error) {
	registry, err := a.workflowRegistry()
	if err != nil {
		return nil, err
	}

	var repo repository.Repository
	switch a.cfg.Store.Driver {
	case config.DriverMySQL:
		if repo, err = mysqlstore.Open(ctx, a.cfg.Store); err != nil {
			return nil, err
		}
	default:
		repo = memory.New()
	}

	events := eventer.Multi{eventer.LogEventer{}}
	a.registry = nil
	if !a.cfg.Metrics.Disabled {
		a.registry = prometheus.NewRegistry()
		events = append(events, metrics.New(a.registry))
	}
	opts := []func(*approve.ApprovalSystem){
		approve.Repository(repo),
		approve.Registry(registry),
		approve.Notifier(notifier.LogNotifier{}),
		approve.Eventer(events),
	}
	if a.cfg.Workflow.EnforceRoles {
		roles, err := approve.NewStaticRoles(a.cfg.Workflow.RoleAssignments)
		if err != nil {
			repo.Close()
			return nil, err
		}
		opts = append(opts, approve.Roles(roles))
	}
	logger.Debugf("审批系统初始化完成, 存储: %s", a.cfg.Store.Driver)
	return approve.NewApprovalSystem(opts...), nil
}

func (a *app) workflowRegistry() (*workflow.Registry, error) {
	registry := workflow.NewDefaultRegistry()
	if path := a.cfg.Workflow.DefinitionsFile; path != "" {
		if err := workflow.LoadFile(registry, path); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode output")
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
