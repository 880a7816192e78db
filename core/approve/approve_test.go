package approve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hellobchain/limsflow/common/constant"
	"github.com/hellobchain/limsflow/common/errs"
	"github.com/hellobchain/limsflow/common/models"
	"github.com/hellobchain/limsflow/core/eventer"
	"github.com/hellobchain/limsflow/core/metrics"
	"github.com/hellobchain/limsflow/core/repository/memory"
	"github.com/hellobchain/limsflow/core/workflow"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type sequence struct {
	mu sync.Mutex
	n  int
}

func (s *sequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("inst-%d", s.n)
}

type sentNotification struct {
	to, subject, message string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *recordingNotifier) SendNotification(to, subject, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{to, subject, message})
	return n.err
}

func (n *recordingNotifier) last() sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return sentNotification{}
	}
	return n.sent[len(n.sent)-1]
}

type recordingEventer struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (e *recordingEventer) StartEvent(instance *models.ApprovalInstance, op constant.OperateType) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, "start:"+string(op))
	return e.err
}

func (e *recordingEventer) EndEvent(instance *models.ApprovalInstance, op constant.OperateType) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, "end:"+string(op)+":"+string(instance.Status))
	return e.err
}

type fixture struct {
	system   *ApprovalSystem
	notifier *recordingNotifier
	eventer  *recordingEventer
	registry *workflow.Registry
	repo     *memory.Store
}

func newFixture(t *testing.T, opts ...func(*ApprovalSystem)) *fixture {
	t.Helper()
	f := &fixture{
		notifier: &recordingNotifier{},
		eventer:  &recordingEventer{},
		registry: workflow.NewDefaultRegistry(),
		repo:     memory.New(),
	}
	clock := &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	seq := &sequence{}
	base := []func(*ApprovalSystem){
		Repository(f.repo),
		Registry(f.registry),
		Notifier(f.notifier),
		Eventer(f.eventer),
		Clock(clock.Now),
		IDGenerator(seq.Next),
	}
	f.system = NewApprovalSystem(append(base, opts...)...)
	t.Cleanup(func() { f.system.Close() })
	return f
}

func (f *fixture) submit(t *testing.T, businessID, submitter string) *models.ApprovalInstance {
	t.Helper()
	inst, err := f.system.Submit(context.Background(), constant.BusinessQuotation, businessID, "BJ-"+businessID, submitter, nil)
	require.NoError(t, err)
	return inst
}

func TestRejectAtSecondLevel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	inst, err := f.system.Submit(ctx, constant.BusinessQuotation, "Q1", "BJ001", "alice", map[string]interface{}{"amount": 12000})
	require.NoError(t, err)
	assert.Equal(t, 1, inst.CurrentLevel)
	assert.Equal(t, constant.StatusPending, inst.Status)
	assert.Empty(t, inst.Records)
	assert.Equal(t, 1, inst.Workflow.Version)
	assert.JSONEq(t, `{"amount":12000}`, string(inst.BusinessData))
	assert.Equal(t, sentNotification{string(constant.RoleSalesManager), "新的审批请求", "您有一个新的报价单审批需要处理: BJ001 (第1级 销售经理)"}, f.notifier.last())

	pending, err := f.system.PendingFor(ctx, constant.RoleSalesManager, "", Page{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, inst.ID, pending[0].ID)

	res, err := f.system.Approve(ctx, inst.ID, "bob", "ok")
	require.NoError(t, err)
	assert.Equal(t, "已批准,进入第2级审批", res.Message)
	assert.Equal(t, 2, res.Instance.CurrentLevel)
	assert.Equal(t, constant.StatusPending, res.Instance.Status)
	assert.Len(t, res.Instance.Records, 1)

	pending, err = f.system.PendingFor(ctx, constant.RoleSalesManager, "", Page{})
	require.NoError(t, err)
	assert.Empty(t, pending)
	pending, err = f.system.PendingFor(ctx, constant.RoleFinance, constant.BusinessQuotation, Page{})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	res, err = f.system.Reject(ctx, inst.ID, "carol", "price too low")
	require.NoError(t, err)
	assert.Equal(t, MsgRejected, res.Message)
	assert.Equal(t, constant.StatusRejected, res.Instance.Status)
	require.NotNil(t, res.Instance.CompletedAt)
	require.Len(t, res.Instance.Records, 2)
	assert.Equal(t, models.ApprovalRecord{
		Level: 2, Role: constant.RoleFinance, Approver: "carol", Action: constant.DecisionReject,
		Comment: "price too low", Timestamp: res.Instance.Records[1].Timestamp,
	}, res.Instance.Records[1])
	assert.Equal(t, "alice", f.notifier.last().to)

	_, err = f.system.Approve(ctx, inst.ID, "dave", "")
	assert.ErrorIs(t, err, errs.ErrAlreadyFinalized)
	assert.Equal(t, "该审批已完成", errs.Message(err))

	got, err := f.system.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, got.Records, 2)
	assert.Equal(t, 2, got.CurrentLevel)
	assert.Equal(t, []string{"start:submit", "end:reject:rejected"}, f.eventer.events)
}

func TestApproveAllLevels(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)
	rec := &recordingEventer{}
	f := newFixture(t, Eventer(eventer.Multi{rec, collector}))

	inst := f.submit(t, "Q1", "alice")
	for i, actor := range []string{"bob", "erin", "frank"} {
		res, err := f.system.Approve(ctx, inst.ID, actor, "")
		require.NoError(t, err)
		if i < 2 {
			assert.Equal(t, fmt.Sprintf("已批准,进入第%d级审批", i+2), res.Message)
			assert.Equal(t, constant.StatusPending, res.Instance.Status)
			assert.Equal(t, i+2, res.Instance.CurrentLevel)
			assert.Len(t, res.Instance.Records, res.Instance.CurrentLevel-1)
			assert.Nil(t, res.Instance.CompletedAt)
			continue
		}
		assert.Equal(t, MsgAllApproved, res.Message)
		assert.Equal(t, constant.StatusApproved, res.Instance.Status)
		assert.Equal(t, 3, res.Instance.CurrentLevel)
		assert.NotNil(t, res.Instance.CompletedAt)
		assert.Len(t, res.Instance.Records, 3)
	}
	assert.Equal(t, []string{"start:submit", "end:approve:approved"}, rec.events)
	assert.Equal(t, "审批完成", f.notifier.last().subject)
	assert.Equal(t, "alice", f.notifier.last().to)

	expected := `
# HELP limsflow_approvals_finished_total Number of approval instances that reached a terminal status.
# TYPE limsflow_approvals_finished_total counter
limsflow_approvals_finished_total{business_type="quotation",status="approved"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "limsflow_approvals_finished_total"))
}

func TestDuplicateSubmission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inst := f.submit(t, "Q1", "alice")

	_, err := f.system.Submit(ctx, constant.BusinessQuotation, "Q1", "BJ001", "alice", nil)
	assert.ErrorIs(t, err, errs.ErrDuplicateSubmission)

	_, err = f.system.Cancel(ctx, inst.ID, "alice")
	require.NoError(t, err)
	again := f.submit(t, "Q1", "alice")
	assert.NotEqual(t, inst.ID, again.ID)
}

func TestInvalidArguments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.system.Submit(ctx, "invoice", "X1", "X1", "alice", nil)
	assert.ErrorIs(t, err, errs.ErrUnknownWorkflow)
	_, err = f.system.Submit(ctx, constant.BusinessReport, "", "R1", "alice", nil)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = f.system.Submit(ctx, constant.BusinessReport, "R1", "R1", "", nil)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = f.system.Submit(ctx, constant.BusinessReport, "R1", "R1", "alice", json.RawMessage(`{bad`))
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = f.system.Submit(ctx, constant.BusinessReport, "R1", "R1", "alice", func() {})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	inst := f.submit(t, "Q1", "alice")
	_, err = f.system.Decide(ctx, inst.ID, "bob", "maybe", "")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = f.system.Decide(ctx, inst.ID, "", constant.DecisionApprove, "")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = f.system.Decide(ctx, "missing", "bob", constant.DecisionApprove, "")
	assert.ErrorIs(t, err, errs.ErrInstanceNotFound)
	assert.Equal(t, "审批实例不存在", errs.Message(err))

	_, err = f.system.PendingFor(ctx, "ceo", "", Page{})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = f.system.Statistics(ctx, "ceo")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = f.system.SubmittedBy(ctx, "", Page{})
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inst := f.submit(t, "Q1", "alice")

	_, err := f.system.Cancel(ctx, inst.ID, "bob")
	assert.ErrorIs(t, err, errs.ErrForbidden)
	assert.ErrorIs(t, err, errs.ErrNotSubmitter)
	assert.Equal(t, "只能撤销自己提交的审批", errs.Message(err))

	msg, err := f.system.Cancel(ctx, inst.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "审批已撤销", msg)
	got, err := f.system.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.StatusCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, string(constant.RoleSalesManager), f.notifier.last().to)

	_, err = f.system.Cancel(ctx, inst.ID, "alice")
	assert.ErrorIs(t, err, errs.ErrInvalidState)
	assert.Equal(t, "只能撤销待审批的单据", errs.Message(err))

	_, err = f.system.Cancel(ctx, "missing", "alice")
	assert.ErrorIs(t, err, errs.ErrInstanceNotFound)

	_, err = f.system.Approve(ctx, inst.ID, "bob", "")
	assert.ErrorIs(t, err, errs.ErrAlreadyFinalized)
	assert.Equal(t, []string{"start:submit", "end:cancel:cancelled"}, f.eventer.events)
}

func TestCancelFinalized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	approved, err := f.system.Submit(ctx, constant.BusinessReport, "R1", "BG001", "alice", nil)
	require.NoError(t, err)
	for _, actor := range []string{"tom", "quinn", "lily"} {
		_, err = f.system.Approve(ctx, approved.ID, actor, "")
		require.NoError(t, err)
	}
	got, err := f.system.GetInstance(ctx, approved.ID)
	require.NoError(t, err)
	require.Equal(t, constant.StatusApproved, got.Status)
	rejected := f.submit(t, "Q1", "alice")
	_, err = f.system.Approve(ctx, rejected.ID, "bob", "")
	require.NoError(t, err)
	_, err = f.system.Reject(ctx, rejected.ID, "carol", "")
	require.NoError(t, err)

	for _, id := range []string{approved.ID, rejected.ID} {
		before, err := f.system.GetInstance(ctx, id)
		require.NoError(t, err)

		_, err = f.system.Cancel(ctx, id, "alice")
		assert.ErrorIs(t, err, errs.ErrInvalidState)

		after, err := f.system.GetInstance(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, before.Status, after.Status)
		assert.Equal(t, before.CurrentLevel, after.CurrentLevel)
		assert.Equal(t, before.Records, after.Records)
		assert.Equal(t, before.Version, after.Version)
	}
}

func TestMisconfiguredWorkflow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	def, err := f.registry.Latest(constant.BusinessContract)
	require.NoError(t, err)
	require.NoError(t, f.repo.Put(ctx, &models.ApprovalInstance{
		ID:           "broken",
		BusinessType: constant.BusinessContract,
		BusinessID:   "C1",
		Workflow:     *def,
		CurrentLevel: 5,
		Status:       constant.StatusPending,
		SubmittedBy:  "alice",
	}))

	_, err = f.system.Approve(ctx, "broken", "bob", "")
	assert.ErrorIs(t, err, errs.ErrMisconfiguredWorkflow)
	assert.Equal(t, "审批级别配置错误", errs.Message(err))

	got, err := f.system.GetInstance(ctx, "broken")
	require.NoError(t, err)
	assert.Empty(t, got.Records)
}

func TestRoleEnforcement(t *testing.T) {
	ctx := context.Background()
	roles, err := NewStaticRoles(map[string][]string{
		"bob":   {"sales_manager"},
		"carol": {"finance", "lab_director"},
	})
	require.NoError(t, err)
	f := newFixture(t, Roles(roles))
	inst := f.submit(t, "Q1", "alice")

	_, err = f.system.Approve(ctx, inst.ID, "carol", "")
	assert.ErrorIs(t, err, errs.ErrForbidden)
	got, err := f.system.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Records)

	_, err = f.system.Approve(ctx, inst.ID, "bob", "")
	require.NoError(t, err)
	_, err = f.system.Approve(ctx, inst.ID, "carol", "")
	require.NoError(t, err)
	res, err := f.system.Approve(ctx, inst.ID, "carol", "")
	require.NoError(t, err)
	assert.Equal(t, constant.StatusApproved, res.Instance.Status)

	_, err = NewStaticRoles(map[string][]string{"x": {"ceo"}})
	assert.Error(t, err)
}

func TestDefinitionVersionPinned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old := f.submit(t, "Q1", "alice")

	_, err := f.registry.Register(models.WorkflowDefinition{
		BusinessType: constant.BusinessQuotation,
		Levels:       []models.Level{{Level: 1, Role: constant.RoleLabDirector}},
	})
	require.NoError(t, err)
	fresh := f.submit(t, "Q2", "alice")
	assert.Equal(t, 2, fresh.Workflow.Version)

	res, err := f.system.Approve(ctx, fresh.ID, "frank", "")
	require.NoError(t, err)
	assert.Equal(t, MsgAllApproved, res.Message)

	res, err = f.system.Approve(ctx, old.ID, "bob", "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Instance.CurrentLevel)
	assert.Equal(t, 1, res.Instance.Workflow.Version)

	pending, err := f.system.PendingFor(ctx, constant.RoleFinance, "", Page{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, old.ID, pending[0].ID)
}

func TestDisabledWorkflow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inflight, err := f.system.Submit(ctx, constant.BusinessContract, "C1", "HT001", "alice", nil)
	require.NoError(t, err)

	_, err = f.registry.SetDisabled(constant.BusinessContract, true)
	require.NoError(t, err)
	_, err = f.system.Submit(ctx, constant.BusinessContract, "C2", "HT002", "alice", nil)
	assert.ErrorIs(t, err, errs.ErrUnknownWorkflow)
	assert.Equal(t, "该审批流程已停用", errs.Message(err))

	for _, actor := range []string{"bob", "lily"} {
		_, err = f.system.Approve(ctx, inflight.ID, actor, "")
		require.NoError(t, err)
	}
	got, err := f.system.GetInstance(ctx, inflight.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.StatusApproved, got.Status)

	_, err = f.registry.SetDisabled(constant.BusinessContract, false)
	require.NoError(t, err)
	_, err = f.system.Submit(ctx, constant.BusinessContract, "C2", "HT002", "alice", nil)
	assert.NoError(t, err)
}

func TestSideEffectFailuresIgnored(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	f := newFixture(t,
		Notifier(&recordingNotifier{err: boom}),
		Eventer(&recordingEventer{err: boom}),
	)
	inst := f.submit(t, "Q1", "alice")
	_, err := f.system.Reject(ctx, inst.ID, "bob", "")
	require.NoError(t, err)
	_, err = f.system.Cancel(ctx, f.submit(t, "Q2", "alice").ID, "alice")
	require.NoError(t, err)
}

func TestConcurrentDecisions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inst := f.submit(t, "Q1", "alice")

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		finalized int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := f.system.Approve(ctx, inst.ID, fmt.Sprintf("user-%d", i), "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, errs.ErrAlreadyFinalized):
				finalized++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, workers-3, finalized)
	got, err := f.system.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.StatusApproved, got.Status)
	require.Len(t, got.Records, 3)
	for i, r := range got.Records {
		assert.Equal(t, i+1, r.Level)
	}
}
