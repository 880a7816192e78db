package cli

import (
	"context"
	"encoding/json"

	"github.com/hellobchain/limsflow/common/config"
	"github.com/hellobchain/limsflow/common/constant"
	"github.com/hellobchain/limsflow/common/errs"
	"github.com/hellobchain/limsflow/core/approve"
	mysqlstore "github.com/hellobchain/limsflow/core/repository/mysql"
	"github.com/hellobchain/limsflow/core/workflow"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply (or revert) the MySQL schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Store.Driver != config.DriverMySQL {
				return errors.Errorf("migrate requires store driver %q, got %q", config.DriverMySQL, a.cfg.Store.Driver)
			}
			if down {
				if err := mysqlstore.MigrateDown(a.cfg.Store.DSN); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{"migrations": "reverted"})
			}
			if err := mysqlstore.Migrate(a.cfg.Store.DSN); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"migrations": "applied"})
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "revert all migrations")
	return cmd
}

func newWorkflowsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "List the workflow definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := a.workflowRegistry()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), registry.List())
		},
	}
	cmd.AddCommand(
		newWorkflowStatusCmd(a, "enable", false),
		newWorkflowStatusCmd(a, "disable", true),
	)
	return cmd
}

// newWorkflowStatusCmd 启用/停用流程, 状态保存在流程定义文件中
func newWorkflowStatusCmd(a *app, use string, disabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <business-type>",
		Short: "Mark a workflow as " + use + "d in the definitions file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Workflow.DefinitionsFile
			if path == "" {
				return errors.Errorf("workflows %s requires workflow.definitionsFile", use)
			}
			registry, err := a.workflowRegistry()
			if err != nil {
				return err
			}
			businessType := constant.BusinessType(args[0])
			def, err := registry.SetDisabled(businessType, disabled)
			if err != nil {
				return err
			}
			if err := workflow.SaveStatus(registry, path, businessType, disabled); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), def)
		},
	}
}

func newSubmitCmd(a *app) *cobra.Command {
	var (
		businessType, businessID, businessNo, submittedBy, data string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a business document for approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var businessData interface{}
			if data != "" {
				businessData = json.RawMessage(data)
			}
			return a.withSystem(cmd, func(ctx context.Context, system *approve.ApprovalSystem) error {
				inst, err := system.Submit(ctx, constant.BusinessType(businessType), businessID, businessNo, submittedBy, businessData)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), inst)
			})
		},
	}
	cmd.Flags().StringVarP(&businessType, "type", "t", "", "business type (quotation|report|contract|outsourcing)")
	cmd.Flags().StringVar(&businessID, "business-id", "", "business document id")
	cmd.Flags().StringVar(&businessNo, "business-no", "", "business document number")
	cmd.Flags().StringVar(&submittedBy, "by", "", "submitter")
	cmd.Flags().StringVar(&data, "data", "", "business data snapshot (JSON)")
	for _, f := range []string{"type", "business-id", "by"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newDecideCmd(a *app) *cobra.Command {
	var actor, action, comment string
	cmd := &cobra.Command{
		Use:   "decide <instance-id>",
		Short: "Approve or reject the current level of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSystem(cmd, func(ctx context.Context, system *approve.ApprovalSystem) error {
				res, err := system.Decide(ctx, args[0], actor, constant.Decision(action), comment)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "approver")
	cmd.Flags().StringVar(&action, "action", string(constant.DecisionApprove), "approve|reject")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	cmd.MarkFlagRequired("actor")
	return cmd
}

func newCancelCmd(a *app) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "cancel <instance-id>",
		Short: "Cancel a pending instance (submitter only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSystem(cmd, func(ctx context.Context, system *approve.ApprovalSystem) error {
				msg, err := system.Cancel(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{"message": msg})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "submitter")
	cmd.MarkFlagRequired("actor")
	return cmd
}

func pageFlags(cmd *cobra.Command, page *approve.Page) {
	cmd.Flags().IntVar(&page.Number, "page", 1, "page number, from 1")
	cmd.Flags().IntVar(&page.Size, "size", 0, "page size, 0 lists everything")
}

func newPendingCmd(a *app) *cobra.Command {
	var (
		role, businessType string
		page               approve.Page
	)
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending instances, optionally for one role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSystem(cmd, func(ctx context.Context, system *approve.ApprovalSystem) error {
				bt := constant.BusinessType(businessType)
				if role == "" {
					list, err := system.AllPending(ctx, bt, page)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), list)
				}
				list, err := system.PendingFor(ctx, constant.Role(role), bt, page)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), list)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "approver role")
	cmd.Flags().StringVarP(&businessType, "type", "t", "", "business type")
	pageFlags(cmd, &page)
	return cmd
}

func newCompletedCmd(a *app) *cobra.Command {
	var businessType string
	cmd := &cobra.Command{
		Use:   "completed",
		Short: "List finished instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSystem(cmd, func(ctx context.Context, system *approve.ApprovalSystem) error {
				list, err := system.CompletedFor(ctx, constant.BusinessType(businessType))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), list)
			})
		},
	}
	cmd.Flags().StringVarP(&businessType, "type", "t", "", "business type")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var (
		businessID, submitter string
		page                  approve.Page
	)
	cmd := &cobra.Command{
		Use:   "show [instance-id]",
		Short: "Show an instance by id, by business id, or all instances of a submitter",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSystem(cmd, func(ctx context.Context, system *approve.ApprovalSystem) error {
				switch {
				case len(args) == 1:
					inst, err := system.GetInstance(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), inst)
				case businessID != "":
					inst, err := system.ByBusinessID(ctx, businessID)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), inst)
				case submitter != "":
					list, err := system.SubmittedBy(ctx, submitter, page)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), list)
				}
				return errors.Wrap(errs.ErrInvalidArgument, "instance id, --business-id or --by is required")
			})
		},
	}
	cmd.Flags().StringVar(&businessID, "business-id", "", "business document id")
	cmd.Flags().StringVar(&submitter, "by", "", "submitter")
	pageFlags(cmd, &page)
	return cmd
}

func newProgressCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <instance-id>",
		Short: "Show the approval progress of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSystem(cmd, func(ctx context.Context, system *approve.ApprovalSystem) error {
				p, err := system.ProgressOf(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), p)
			})
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show approval statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSystem(cmd, func(ctx context.Context, system *approve.ApprovalSystem) error {
				stats, err := system.Statistics(ctx, constant.Role(role))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "count pending instances for this role only")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		operator string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "history [instance-id]",
		Short: "Show the audit history of an instance or an operator",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && operator == "" {
				return errors.Wrap(errs.ErrInvalidArgument, "instance id or --operator is required")
			}
			return a.withSystem(cmd, func(ctx context.Context, system *approve.ApprovalSystem) error {
				if len(args) == 1 {
					list, err := system.History(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), list)
				}
				list, err := system.OperatorHistory(ctx, operator, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), list)
			})
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator")
	cmd.Flags().IntVar(&limit, "limit", 20, "max entries for --operator")
	return cmd
}
