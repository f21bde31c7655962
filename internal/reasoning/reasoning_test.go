package reasoning

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/brandkeeper/internal/errs"
	"github.com/rcliao/brandkeeper/internal/knowledge"
	"github.com/rcliao/brandkeeper/internal/llm"
	"github.com/rcliao/brandkeeper/internal/logging"
	"github.com/rcliao/brandkeeper/internal/memory"
	"github.com/rcliao/brandkeeper/internal/model"
	"github.com/rcliao/brandkeeper/internal/session"
	"github.com/rcliao/brandkeeper/internal/store"
	"github.com/rcliao/brandkeeper/internal/validation"
)

func editor() session.Context { return session.New(model.RoleEditor) }

type harness struct {
	mem *memory.Manager
	kb  *knowledge.Base
	val *validation.Engine
}

func newHarness(t *testing.T, sources ...string) *harness {
	t.Helper()
	return harnessAt(t, filepath.Join(t.TempDir(), "reasoning.db"), sources...)
}

// harnessAt opens its own store on the database at path.
func harnessAt(t *testing.T, path string, sources ...string) *harness {
	t.Helper()
	st, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	mem, err := memory.New(context.Background(), st, memory.Options{Logger: logging.Discard()})
	require.NoError(t, err)
	kb := knowledge.New(st, knowledge.Options{Sources: sources, Logger: logging.Discard()})
	val := validation.New(mem, kb, validation.Options{Validators: prohibitedOnly(), Logger: logging.Discard()})
	return &harness{mem: mem, kb: kb, val: val}
}

// prohibitedOnly keeps the real prohibited-language check and stubs the rest.
func prohibitedOnly() []validation.Validator {
	var out []validation.Validator
	for _, v := range validation.DefaultValidators() {
		if v.Type() == model.ValidateProhibitedLanguage {
			out = append(out, v)
			continue
		}
		out = append(out, validation.NewValidator(v.Type(), func(*validation.Input) []model.ValidationIssue { return nil }))
	}
	return out
}

func (h *harness) engine(opts Options) *Engine {
	opts.Logger = logging.Discard()
	return New(h.mem, h.kb, h.val, opts)
}

func statuses(p *model.Plan) map[string]model.StepStatus {
	out := make(map[string]model.StepStatus, len(p.Steps))
	for _, s := range p.Steps {
		out[s.ID] = s.Status
	}
	return out
}

func done(t *testing.T, e *Engine, planID, stepID string) *model.Plan {
	t.Helper()
	p, err := e.Advance(context.Background(), editor(), planID, stepID, Outcome{Status: model.StepDone})
	require.NoError(t, err)
	return p
}

func TestCreationPlanRetriesThenAdapts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e := h.engine(Options{AdaptOnFailure: true})

	p, err := e.CreatePlan(ctx, editor(), model.TemplateCreation, model.TaskContext{Topic: "AI in UX"})
	require.NoError(t, err)
	require.Len(t, p.Steps, 4)
	assert.Equal(t, model.PlanCreated, p.Status)
	assert.Equal(t, []string{"step-1", "step-2"}, p.Steps[2].DependsOn)
	assert.Equal(t, map[string]model.StepStatus{
		"step-1": model.StepReady, "step-2": model.StepReady,
		"step-3": model.StepPending, "step-4": model.StepPending,
	}, statuses(p))

	p = done(t, e, p.ID, "step-1")
	assert.Equal(t, model.StepPending, statuses(p)["step-3"])
	assert.Equal(t, model.PlanRunning, p.Status)
	p = done(t, e, p.ID, "step-2")
	assert.Equal(t, model.StepReady, statuses(p)["step-3"])

	p, err = e.Advance(ctx, editor(), p.ID, "step-3", Outcome{Status: model.StepFailed, Note: "off brand"})
	require.NoError(t, err)
	s, _ := p.Step("step-3")
	assert.Equal(t, model.StepReady, s.Status, "first failure is retried")
	assert.Equal(t, 1, s.Attempts)

	p, err = e.Advance(ctx, editor(), p.ID, "step-3", Outcome{Status: model.StepFailed})
	require.NoError(t, err)
	assert.Equal(t, model.PlanAdapted, p.Status)
	assert.Equal(t, 1, p.Revision)
	require.Len(t, p.Adaptations, 1)
	assert.Equal(t, string(AdaptRemediate), p.Adaptations[0].Kind)

	st := statuses(p)
	assert.Equal(t, model.StepDone, st["step-1"])
	assert.Equal(t, model.StepDone, st["step-2"])
	assert.Equal(t, model.StepFailed, st["step-3"])

	fix, _ := p.Step(p.Adaptations[0].StepIDs[0])
	gate, _ := p.Step(p.Adaptations[0].StepIDs[1])
	require.NotNil(t, fix)
	require.NotNil(t, gate)
	assert.Equal(t, "step-3", fix.Remediates)
	assert.Equal(t, model.StepReady, fix.Status)
	assert.Equal(t, model.StepQualityGate, gate.Kind)
	assert.Equal(t, "step-4", gate.Gates)
	validate, _ := p.Step("step-4")
	assert.Equal(t, []string{gate.ID}, validate.DependsOn)

	p = done(t, e, p.ID, fix.ID)
	p = done(t, e, p.ID, gate.ID)
	p = done(t, e, p.ID, "step-4")
	assert.Equal(t, model.PlanDone, p.Status)

	notes, err := h.mem.Retrieve(ctx, session.System(), memory.Query{Tags: []string{"plan"}})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, model.KindPlan, notes[0].Kind)
	assert.True(t, notes[0].HasTag("done"))
}

func TestFailureWithoutAdaptationFailsPlan(t *testing.T) {
	ctx := context.Background()
	e := newHarness(t).engine(Options{MaxAttempts: 1})

	p, err := e.CreatePlan(ctx, editor(), model.TemplateCreation, model.TaskContext{})
	require.NoError(t, err)
	p, err = e.Advance(ctx, editor(), p.ID, "step-1", Outcome{Status: model.StepFailed})
	require.NoError(t, err)
	assert.Equal(t, model.PlanFailed, p.Status)
	assert.Equal(t, model.StepBlocked, statuses(p)["step-3"])

	_, err = e.Advance(ctx, editor(), p.ID, "step-2", Outcome{Status: model.StepDone})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestStartRequiresDoneDependencies(t *testing.T) {
	ctx := context.Background()
	e := newHarness(t).engine(Options{})

	p, err := e.CreatePlan(ctx, editor(), model.TemplateCreation, model.TaskContext{})
	require.NoError(t, err)

	_, err = e.Start(ctx, editor(), p.ID, "step-3")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = e.Advance(ctx, editor(), p.ID, "step-3", Outcome{Status: model.StepDone})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = e.Advance(ctx, editor(), p.ID, "step-1", Outcome{Status: "maybe"})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = e.Start(ctx, editor(), p.ID, "step-9")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = e.Start(ctx, editor(), "missing", "step-1")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	p, err = e.Start(ctx, editor(), p.ID, "step-1")
	require.NoError(t, err)
	s, _ := p.Step("step-1")
	assert.Equal(t, model.StepRunning, s.Status)
	assert.Equal(t, 1, s.Attempts)
	assert.NotNil(t, s.StartedAt)
	assert.Equal(t, model.PlanRunning, p.Status)
}

// randomTemplate builds n steps where each depends only on earlier steps.
func randomTemplate(r *rand.Rand, n int) Template {
	tpl := Template{Type: model.TemplateCreation, Title: "random"}
	for i := 0; i < n; i++ {
		spec := StepSpec{Key: fmt.Sprintf("s%d", i), Name: fmt.Sprintf("Step %d", i)}
		for j := 0; j < i; j++ {
			if r.Intn(3) == 0 {
				spec.After = append(spec.After, fmt.Sprintf("s%d", j))
			}
		}
		tpl.Steps = append(tpl.Steps, spec)
	}
	return tpl
}

func TestRandomAcyclicGraphsRunInDependencyOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	r := rand.New(rand.NewSource(42))

	for round := 0; round < 25; round++ {
		n := 2 + r.Intn(9)
		e := h.engine(Options{Templates: map[model.TemplateType]Template{model.TemplateCreation: randomTemplate(r, n)}})
		p, err := e.CreatePlan(ctx, editor(), model.TemplateCreation, model.TaskContext{})
		require.NoError(t, err, "round %d", round)

		for steps := 0; !p.Status.Terminal(); steps++ {
			require.Less(t, steps, 2*n, "round %d did not finish", round)
			ready := Ready(p)
			require.NotEmpty(t, ready, "round %d stalled", round)
			next := ready[r.Intn(len(ready))]

			if r.Intn(8) == 0 {
				p, err = e.Advance(ctx, editor(), p.ID, next.ID, Outcome{Status: model.StepSkipped})
				require.NoError(t, err)
				continue
			}
			for _, dep := range next.DependsOn {
				d, _ := p.Step(dep)
				require.Equal(t, model.StepDone, d.Status, "round %d: %s ready before %s done", round, next.ID, dep)
			}
			p, err = e.Start(ctx, editor(), p.ID, next.ID)
			require.NoError(t, err)
			p = done(t, e, p.ID, next.ID)
		}
		assert.Equal(t, model.PlanDone, p.Status, "round %d", round)
	}
}

func TestCyclicGraphsAreRejectedBeforeScheduling(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	r := rand.New(rand.NewSource(7))

	for round := 0; round < 25; round++ {
		n := 2 + r.Intn(9)
		tpl := randomTemplate(r, n)
		from := r.Intn(n - 1)
		to := from + 1 + r.Intn(n-from-1)
		tpl.Steps[to].After = append(tpl.Steps[to].After, tpl.Steps[from].Key)
		tpl.Steps[from].After = append(tpl.Steps[from].After, tpl.Steps[to].Key)

		e := h.engine(Options{Templates: map[model.TemplateType]Template{model.TemplateCreation: tpl}})
		_, err := e.CreatePlan(ctx, editor(), model.TemplateCreation, model.TaskContext{})
		require.ErrorIs(t, err, errs.ErrInvalidInput, "round %d", round)
	}

	plans, err := h.mem.ListPlans(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestCreatePlanRejectsUnknownTemplate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e := h.engine(Options{})

	_, err := e.CreatePlan(ctx, editor(), "sonnet", model.TaskContext{})
	assert.ErrorIs(t, err, errs.ErrInvalidTemplate)

	bad := Template{Type: model.TemplateRevision, Steps: []StepSpec{{Key: "a", After: []string{"nope"}}}}
	e = h.engine(Options{Templates: map[model.TemplateType]Template{model.TemplateRevision: bad}})
	_, err = e.CreatePlan(ctx, editor(), model.TemplateRevision, model.TaskContext{})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	plans, _ := h.mem.ListPlans(ctx, "")
	assert.Empty(t, plans)
}

func TestTemplatesShapes(t *testing.T) {
	ctx := context.Background()
	e := newHarness(t).engine(Options{})

	v, err := e.CreatePlan(ctx, editor(), model.TemplateValidation, model.TaskContext{})
	require.NoError(t, err)
	assert.Len(t, Ready(v), 3, "the three checks run in parallel")

	c, err := e.CreatePlan(ctx, editor(), model.TemplateCollaboration, model.TaskContext{})
	require.NoError(t, err)
	gate, _ := c.Step("step-4")
	assert.Equal(t, model.StepQualityGate, gate.Kind)
	assert.Equal(t, "step-5", gate.Gates)
	feedback, _ := c.Step("step-3")
	assert.Equal(t, 5, feedback.MaxAttempts)

	r, err := e.CreatePlan(ctx, editor(), model.TemplateRevision, model.TaskContext{Title: "Fix intro"})
	require.NoError(t, err)
	assert.Equal(t, "Fix intro", r.Title)
	assert.Len(t, Ready(r), 1)
}

func TestPriorFailuresAddQualityGate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.mem.Store(ctx, session.System(), memory.StoreRequest{
		Type: model.Episodic, Kind: model.KindValidation, Importance: 0.4,
		Content: "Validation of draft-1 failed", Tags: []string{"validation", "failed", "newsletter"},
	})
	require.NoError(t, err)
	e := h.engine(Options{})

	p, err := e.CreatePlan(ctx, editor(), model.TemplateCreation, model.TaskContext{ContentType: "Newsletter"})
	require.NoError(t, err)
	require.Len(t, p.Steps, 5)
	gate := p.Steps[3]
	assert.Equal(t, model.StepQualityGate, gate.Kind)
	assert.Equal(t, "step-4", gate.Gates)
	assert.Equal(t, []string{"step-3"}, gate.DependsOn)
	assert.Equal(t, []string{gate.ID}, p.Steps[4].DependsOn)
	assert.InDelta(t, 0.7, gate.Threshold, 1e-9)

	other, err := e.CreatePlan(ctx, editor(), model.TemplateCreation, model.TaskContext{ContentType: "article"})
	require.NoError(t, err)
	assert.Len(t, other.Steps, 4)
}

func TestCreatePlanConsultsKnowledge(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	path := filepath.Join(root, "brand", "voice.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("---\ntitle: Brand Voice\ntags: [voice]\n---\nMethodical and practical.\n"), 0o644))
	h := newHarness(t, root)
	_, err := h.kb.Load(ctx)
	require.NoError(t, err)
	e := h.engine(Options{})

	p, err := e.CreatePlan(ctx, editor(), model.TemplateCreation, model.TaskContext{Topic: "voice", ContentType: "article", Tags: []string{"voice"}})
	require.NoError(t, err)
	require.Equal(t, []string{"brand_voice.md"}, p.Knowledge)

	usage, err := h.kb.Usage(ctx, "brand_voice.md")
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, p.ID, usage[0].PlanID)
	assert.InDelta(t, 1.0, usage[0].Effectiveness, 1e-9)
}

func TestAdaptRejectsCycleAndKeepsPlan(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e := h.engine(Options{})

	p, err := e.CreatePlan(ctx, editor(), model.TemplateCreation, model.TaskContext{})
	require.NoError(t, err)
	before, err := h.mem.LoadPlan(ctx, p.ID)
	require.NoError(t, err)

	_, err = e.Adapt(ctx, editor(), p.ID, AdaptRequest{Kind: AdaptModifyDependencies, StepID: "step-1", DependsOn: []string{"step-4"}})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = e.Adapt(ctx, editor(), p.ID, AdaptRequest{Kind: AdaptModifyDependencies, StepID: "step-1", DependsOn: []string{"ghost"}})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = e.Adapt(ctx, editor(), p.ID, AdaptRequest{Kind: AdaptSkipStep, StepID: "step-9"})
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = e.Adapt(ctx, editor(), p.ID, AdaptRequest{Kind: "shuffle"})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = e.Adapt(ctx, editor(), p.ID, AdaptRequest{Kind: AdaptRemediate, StepID: "step-1"})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	after, err := h.mem.LoadPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAdaptKinds(t *testing.T) {
	ctx := context.Background()
	e := newHarness(t).engine(Options{})

	p, err := e.CreatePlan(ctx, editor(), model.TemplateCreation, model.TaskContext{})
	require.NoError(t, err)
	p = done(t, e, p.ID, "step-1")

	p, err = e.Adapt(ctx, editor(), p.ID, AdaptRequest{Kind: AdaptAddQualityCheck, StepID: "step-4", Reason: "new reviewer"})
	require.NoError(t, err)
	assert.Equal(t, model.PlanAdapted, p.Status)
	assert.Equal(t, 1, p.Revision)
	gateID := p.Adaptations[0].StepIDs[0]
	gate, gi := p.Step(gateID)
	_, vi := p.Step("step-4")
	assert.Less(t, gi, vi, "gate sits before the step it gates")
	assert.Equal(t, []string{"step-3"}, gate.DependsOn)
	validate, _ := p.Step("step-4")
	assert.Equal(t, []string{gateID}, validate.DependsOn)

	p, err = e.Adapt(ctx, editor(), p.ID, AdaptRequest{Kind: AdaptAddParallelStep, Name: "Fact check", DependsOn: []string{"step-1"}})
	require.NoError(t, err)
	added := p.Steps[len(p.Steps)-1]
	assert.Equal(t, "Fact check", added.Name)
	assert.Equal(t, model.StepReady, added.Status)

	p, err = e.Adapt(ctx, editor(), p.ID, AdaptRequest{Kind: AdaptSkipStep, StepID: "step-2", Reason: "structure fixed by template"})
	require.NoError(t, err)
	draft, _ := p.Step("step-3")
	assert.Equal(t, []string{"step-1"}, draft.DependsOn, "dependents inherit the skipped step's dependencies")
	assert.Equal(t, model.StepReady, draft.Status)

	_, err = e.Adapt(ctx, editor(), p.ID, AdaptRequest{Kind: AdaptModifyDependencies, StepID: "step-3", DependsOn: []string{"step-2"}})
	assert.ErrorIs(t, err, errs.ErrInvalidInput, "skipped steps cannot be depended on")

	p, err = e.Start(ctx, editor(), p.ID, "step-3")
	require.NoError(t, err)
	p, err = e.Adapt(ctx, editor(), p.ID, AdaptRequest{Kind: AdaptReschedule, StepID: "step-3", EstimateMin: 90})
	require.NoError(t, err)
	draft, _ = p.Step("step-3")
	assert.Equal(t, model.StepReady, draft.Status)
	assert.Equal(t, 90, draft.EstimateMin)
	assert.Equal(t, 4, p.Revision)

	_, err = e.Adapt(ctx, editor(), p.ID, AdaptRequest{Kind: AdaptModifyDependencies, StepID: "step-1"})
	assert.ErrorIs(t, err, errs.ErrInvalidInput, "finished steps keep their history")

	var finished int
	for _, ev := range p.Events {
		if ev.StepID == "step-1" && ev.To == model.StepDone {
			finished++
		}
	}
	assert.Equal(t, 1, finished)
}

func TestAdaptRemembersReason(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e := h.engine(Options{})

	p, err := e.CreatePlan(ctx, editor(), model.TemplateCreation, model.TaskContext{Title: "Guide", ContentType: "article"})
	require.NoError(t, err)

	_, err = e.Adapt(ctx, editor(), p.ID, AdaptRequest{Kind: AdaptAddParallelStep, Name: "Fact check"})
	require.NoError(t, err)
	_, err = e.Adapt(ctx, editor(), p.ID, AdaptRequest{Kind: AdaptAddQualityCheck, StepID: "step-4", Reason: "readers flagged tone"})
	require.NoError(t, err)

	got, err := h.mem.Retrieve(ctx, session.System(), memory.Query{
		Types: []model.MemoryType{model.Procedural},
		Tags:  []string{"adaptation"},
	})
	require.NoError(t, err)
	var notes []model.MemoryEntry
	for _, m := range got {
		if slices.Contains(m.Tags, "adaptation") {
			notes = append(notes, m)
		}
	}
	require.Len(t, notes, 1, "only adaptations with a reason are remembered")
	assert.Contains(t, notes[0].Content, "readers flagged tone")
	assert.Contains(t, notes[0].Tags, "article")
	assert.Contains(t, notes[0].Tags, string(AdaptAddQualityCheck))
	assert.Equal(t, model.RoleSystem, notes[0].OwnerRole)
}

func TestReadyPutsGatesFirst(t *testing.T) {
	p := &model.Plan{Steps: []model.PlanStep{
		{ID: "step-1", Status: model.StepReady},
		{ID: "step-2", Status: model.StepReady},
		{ID: "step-3", Status: model.StepPending},
		{ID: "step-4", Kind: model.StepQualityGate, Gates: "step-2", Status: model.StepReady},
	}}
	var ids []string
	for _, s := range Ready(p) {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"step-1", "step-4", "step-2"}, ids)
}

func TestCancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newHarness(t).engine(Options{})

	p, err := e.CreatePlan(ctx, editor(), model.TemplateCreation, model.TaskContext{})
	require.NoError(t, err)
	p = done(t, e, p.ID, "step-1")
	p, err = e.Start(ctx, editor(), p.ID, "step-2")
	require.NoError(t, err)

	p, err = e.Cancel(ctx, editor(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanAbandoned, p.Status)
	assert.Equal(t, map[string]model.StepStatus{
		"step-1": model.StepDone, "step-2": model.StepSkipped,
		"step-3": model.StepSkipped, "step-4": model.StepSkipped,
	}, statuses(p))

	again, err := e.Cancel(ctx, editor(), p.ID)
	require.NoError(t, err)
	assert.Len(t, again.Events, len(p.Events))
	assert.Equal(t, model.PlanAbandoned, again.Status)

	_, err = e.Advance(ctx, editor(), p.ID, "step-2", Outcome{Status: model.StepDone})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = e.Adapt(ctx, editor(), p.ID, AdaptRequest{Kind: AdaptSkipStep, StepID: "step-3"})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestMonitorIsReadOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e := h.engine(Options{StaleAfter: 24 * time.Hour})
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return clock }

	p, err := e.CreatePlan(ctx, editor(), model.TemplateCreation, model.TaskContext{})
	require.NoError(t, err)
	p, err = e.Start(ctx, editor(), p.ID, "step-1")
	require.NoError(t, err)
	before, err := h.mem.LoadPlan(ctx, p.ID)
	require.NoError(t, err)

	clock = clock.Add(2 * time.Hour)
	health, err := e.Monitor(ctx, editor(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"step-1"}, health.Overdue)
	require.Len(t, health.Bottlenecks, 1)
	assert.Equal(t, "duration", health.Bottlenecks[0].Kind)
	assert.InDelta(t, 0.9, health.Score, 1e-9)
	assert.False(t, health.Stale)
	assert.Equal(t, []string{"step-2"}, health.Ready)
	assert.Equal(t, validation.TrendInsufficient, health.QualityTrend.Direction)
	assert.Equal(t, 75, health.RemainingMin)

	clock = clock.Add(48 * time.Hour)
	health, err = e.Monitor(ctx, editor(), p.ID)
	require.NoError(t, err)
	assert.True(t, health.Stale)
	assert.True(t, health.NeedsAdaptation)

	after, err := h.mem.LoadPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEnginesSharingADatabaseKeepEveryTransition(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	a := harnessAt(t, path).engine(Options{})
	b := harnessAt(t, path).engine(Options{})

	for round := 0; round < 20; round++ {
		p, err := a.CreatePlan(ctx, editor(), model.TemplateCreation, model.TaskContext{Topic: "shared"})
		require.NoError(t, err)

		var g errgroup.Group
		g.Go(func() error {
			_, err := a.Advance(ctx, editor(), p.ID, "step-1", Outcome{Status: model.StepDone})
			return err
		})
		g.Go(func() error {
			_, err := b.Advance(ctx, editor(), p.ID, "step-2", Outcome{Status: model.StepDone})
			return err
		})
		require.NoError(t, g.Wait())

		got, err := b.Plan(ctx, p.ID)
		require.NoError(t, err)
		st := statuses(got)
		assert.Equal(t, model.StepDone, st["step-1"], "round %d", round)
		assert.Equal(t, model.StepDone, st["step-2"], "round %d", round)
		assert.Equal(t, model.StepReady, st["step-3"], "round %d", round)

		var doneEvents int
		for _, ev := range got.Events {
			if ev.To == model.StepDone {
				doneEvents++
			}
		}
		assert.Equal(t, 2, doneEvents, "round %d", round)
	}
}

func TestRunValidationStep(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e := h.engine(Options{})

	p, err := e.CreatePlan(ctx, editor(), model.TemplateCreation, model.TaskContext{ContentType: "article"})
	require.NoError(t, err)
	_, err = e.RunValidationStep(ctx, editor(), p.ID, "step-1", "text", validation.Context{})
	assert.ErrorIs(t, err, errs.ErrInvalidInput, "task steps are not validations")

	done(t, e, p.ID, "step-1")
	done(t, e, p.ID, "step-2")
	done(t, e, p.ID, "step-3")

	_, err = e.RunValidationStep(ctx, editor(), p.ID, "step-4", "   ", validation.Context{})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	unchanged, _ := h.mem.LoadPlan(ctx, p.ID)
	s, _ := unchanged.Step("step-4")
	assert.Equal(t, model.StepReady, s.Status)
	assert.Zero(t, s.Attempts)

	res, err := e.RunValidationStep(ctx, editor(), p.ID, "step-4", "This is magic.", validation.Context{ContentID: "draft-1"})
	require.NoError(t, err)
	assert.False(t, res.Result.Passed)
	assert.Equal(t, p.ID, res.Result.PlanID)
	s, _ = res.Plan.Step("step-4")
	assert.Equal(t, model.StepReady, s.Status, "failed validation is retried")

	res, err = e.RunValidationStep(ctx, editor(), p.ID, "step-4", "This is practical.", validation.Context{ContentID: "draft-1"})
	require.NoError(t, err)
	assert.True(t, res.Result.Passed)
	assert.Equal(t, model.PlanDone, res.Plan.Status)

	health, err := e.Monitor(ctx, editor(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, health.QualityTrend.Count)
	assert.Equal(t, validation.TrendImproving, health.QualityTrend.Direction)
	assert.False(t, health.NeedsAdaptation)
}

func TestDecide(t *testing.T) {
	ctx := context.Background()
	e := newHarness(t).engine(Options{})
	score := func(v float64) *float64 { return &v }
	deadline := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	late := deadline.Add(72 * time.Hour)
	early := deadline.Add(-72 * time.Hour)

	cases := []struct {
		name string
		dt   model.DecisionType
		dc   model.DecisionContext
		want string
	}{
		{"structure", model.DecideContentStructure, model.DecisionContext{ContentType: "analysis"}, "comparative"},
		{"structure default", model.DecideContentStructure, model.DecisionContext{ContentType: "limerick"}, "step_by_step"},
		{"persona by complexity", model.DecidePersonaTargeting, model.DecisionContext{Complexity: "high", Personas: []string{"Adaptive Alex", "Strategic Sofia"}}, "Strategic Sofia"},
		{"persona fallback", model.DecidePersonaTargeting, model.DecisionContext{Complexity: "low", Personas: []string{"Adaptive Alex"}}, "Adaptive Alex"},
		{"template", model.DecideTemplateSelection, model.DecisionContext{ContentType: "narrative"}, "core_body_narrative"},
		{"first revision", model.DecideRevisionApproach, model.DecisionContext{}, "comprehensive"},
		{"second revision", model.DecideRevisionApproach, model.DecisionContext{RevisionCount: 2}, "targeted"},
		{"late revision", model.DecideRevisionApproach, model.DecisionContext{RevisionCount: 3}, "minimal"},
		{"approve", model.DecideBrandCompliance, model.DecisionContext{ValidationScore: score(0.9)}, "approve"},
		{"revise", model.DecideBrandCompliance, model.DecisionContext{ValidationScore: score(0.95), CriticalIssues: 1}, "revise"},
		{"escalate", model.DecideBrandCompliance, model.DecisionContext{ValidationScore: score(0.4), RevisionCount: 3}, "escalate"},
		{"prioritize", model.DecideTaskPrioritization, model.DecisionContext{Deadline: &deadline, Tasks: []model.TaskRef{
			{ID: "polish", Priority: 2, DueAt: &late},
			{ID: "voice", Area: "brand_compliance"},
			{ID: "links", Priority: 2, DueAt: &early},
			{ID: "quality", Area: "content_quality"},
		}}, "voice,quality,links"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := e.Decide(ctx, editor().WithPlan("plan-1"), tc.dt, tc.dc)
			require.NoError(t, err)
			assert.Equal(t, tc.want, d.ChosenOption)
			assert.Equal(t, "plan-1", d.PlanID)
			assert.NotEmpty(t, d.Rationale)
			assert.Greater(t, d.Confidence, 0.0)
		})
	}

	d, err := e.Decide(ctx, editor(), model.DecideTaskPrioritization, cases[len(cases)-1].dc)
	require.NoError(t, err)
	assert.Equal(t, []string{"polish"}, d.Alternatives)

	_, err = e.Decide(ctx, editor(), "coin_flip", model.DecisionContext{})
	assert.ErrorIs(t, err, errs.ErrInvalidType)
	_, err = e.Decide(ctx, editor(), model.DecideBrandCompliance, model.DecisionContext{})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = e.Decide(ctx, editor(), model.DecideTaskPrioritization, model.DecisionContext{})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	logged, err := e.Decisions(ctx, "plan-1")
	require.NoError(t, err)
	assert.Len(t, logged, len(cases))
}

func TestDecideNeverTouchesPlans(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e := h.engine(Options{})
	p, err := e.CreatePlan(ctx, editor(), model.TemplateRevision, model.TaskContext{})
	require.NoError(t, err)
	before, _ := h.mem.LoadPlan(ctx, p.ID)

	_, err = e.Decide(ctx, editor().WithPlan(p.ID), model.DecideRevisionApproach, model.DecisionContext{RevisionCount: 1})
	require.NoError(t, err)

	after, _ := h.mem.LoadPlan(ctx, p.ID)
	assert.Equal(t, before, after)
}

func hanging() llm.Completer {
	inner := llm.Func(func(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	return llm.NewBounded(inner, llm.BoundedOptions{Timeout: 10 * time.Millisecond, Backoff: time.Millisecond, Logger: logging.Discard()})
}

func TestCompleterTimeoutLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	e := h.engine(Options{Completer: hanging(), Elaborate: true, CompleterTimeout: 10 * time.Millisecond})

	_, err := e.CreatePlan(ctx, editor(), model.TemplateCreation, model.TaskContext{Topic: "pricing"})
	assert.ErrorIs(t, err, errs.ErrUpstreamTimeout)
	plans, _ := h.mem.ListPlans(ctx, "")
	assert.Empty(t, plans)

	_, err = e.Decide(ctx, editor(), model.DecideRevisionApproach, model.DecisionContext{})
	assert.ErrorIs(t, err, errs.ErrUpstreamTimeout)
	logged, _ := e.Decisions(ctx, "")
	assert.Empty(t, logged)
}

func TestCompleterWritesBriefAndRationale(t *testing.T) {
	ctx := context.Background()
	var prompts []string
	c := llm.Func(func(_ context.Context, prompt string, _ time.Duration) (string, error) {
		prompts = append(prompts, prompt)
		return "  Keep it concrete.  ", nil
	})
	e := newHarness(t).engine(Options{Completer: c, Elaborate: true})

	p, err := e.CreatePlan(ctx, editor(), model.TemplateCreation, model.TaskContext{Topic: "pricing", Personas: []string{"Curious Casey"}})
	require.NoError(t, err)
	assert.Equal(t, "Keep it concrete.", p.Brief)
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Audience: Curious Casey")

	d, err := e.Decide(ctx, editor(), model.DecideRevisionApproach, model.DecisionContext{})
	require.NoError(t, err)
	assert.Contains(t, d.Rationale, "Keep it concrete.")
}
