package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/tekhne-dev/tekhne/pkg/core"
	"github.com/tekhne-dev/tekhne/pkg/errors"
)

func testSkill(name, version string, caps []string, deps ...string) *core.Skill {
	skill := &core.Skill{
		Name:         name,
		Version:      version,
		Description:  "test skill " + name,
		Dependencies: deps,
	}
	for _, capName := range caps {
		capName := capName
		skill.Capabilities = append(skill.Capabilities, core.Capability{
			Name: capName,
			Handler: core.HandlerFunc(func(ctx context.Context, args map[string]any) (any, error) {
				return capName, nil
			}),
		})
	}
	return skill
}

func TestRegisterAndSnapshot(t *testing.T) {
	r := New()
	ctx := context.Background()

	if err := r.Register(ctx, testSkill("web", "v1.0.0", []string{"fetch"})); err != nil {
		t.Fatalf("register: %v", err)
	}

	snap := r.Snapshot()
	if snap.Version() != 1 {
		t.Errorf("expected version 1, got %d", snap.Version())
	}

	skill, ok := snap.Skill("web")
	if !ok {
		t.Fatalf("expected web in snapshot")
	}
	if skill.State != core.SkillStateActive {
		t.Errorf("expected no-dependency skill to activate immediately, got %s", skill.State)
	}

	cap, ok := snap.Capability("fetch")
	if !ok {
		t.Fatalf("expected fetch resolvable")
	}
	if cap.Skill != "web" {
		t.Errorf("expected owner stamp web, got %q", cap.Skill)
	}
}

func TestRegisterCapabilityConflictAtomic(t *testing.T) {
	r := New()
	ctx := context.Background()

	if err := r.Register(ctx, testSkill("web", "v1.0.0", []string{"fetch"})); err != nil {
		t.Fatalf("register: %v", err)
	}
	before := r.Snapshot()

	err := r.Register(ctx, testSkill("scraper", "v1.0.0", []string{"fetch", "scrape"}))
	if !errors.IsCode(err, errors.CodeCapabilityConflict) {
		t.Fatalf("expected CapabilityConflict, got %v", err)
	}

	after := r.Snapshot()
	if after.Version() != before.Version() {
		t.Errorf("failed register must not publish a snapshot: %d -> %d", before.Version(), after.Version())
	}
	if _, ok := after.Skill("scraper"); ok {
		t.Errorf("rejected skill must not appear in the table")
	}
	if _, ok := after.Capability("scrape"); ok {
		t.Errorf("no capability of a rejected skill may leak")
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	r := New()
	ctx := context.Background()

	if err := r.Register(ctx, testSkill("web", "v1.0.0", []string{"fetch"})); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.Register(ctx, testSkill("web", "v2.0.0", []string{"other"}))
	if !errors.IsCode(err, errors.CodeCapabilityConflict) {
		t.Fatalf("expected CapabilityConflict for duplicate name, got %v", err)
	}
}

func TestRegisterDependencyUnresolved(t *testing.T) {
	r := New()
	ctx := context.Background()

	err := r.Register(ctx, testSkill("summarizer", "v1.0.0", []string{"summarize"}, "web"))
	if !errors.IsCode(err, errors.CodeDependencyUnresolved) {
		t.Fatalf("expected DependencyUnresolved, got %v", err)
	}
	if r.Snapshot().Version() != 0 {
		t.Errorf("failed register must not bump the version")
	}
}

func TestPromotionCascade(t *testing.T) {
	r := New()
	ctx := context.Background()

	// web depends on net; register web first is impossible (dep missing),
	// so build the chain bottom-up and check activation ripples.
	if err := r.Register(ctx, testSkill("net", "v1.0.0", []string{"dial"})); err != nil {
		t.Fatalf("register net: %v", err)
	}
	if err := r.Register(ctx, testSkill("web", "v1.0.0", []string{"fetch"}, "net")); err != nil {
		t.Fatalf("register web: %v", err)
	}
	if err := r.Register(ctx, testSkill("summarizer", "v1.0.0", []string{"summarize"}, "web")); err != nil {
		t.Fatalf("register summarizer: %v", err)
	}

	snap := r.Snapshot()
	for _, name := range []string{"net", "web", "summarizer"} {
		skill, ok := snap.Skill(name)
		if !ok {
			t.Fatalf("missing %s", name)
		}
		if skill.State != core.SkillStateActive {
			t.Errorf("expected %s active, got %s", name, skill.State)
		}
	}
	if _, ok := snap.Capability("summarize"); !ok {
		t.Errorf("expected summarize resolvable once active")
	}
}

func TestUnregisterNotFound(t *testing.T) {
	r := New()
	err := r.Unregister(context.Background(), "ghost", false)
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestUnregisterWithDependentsRefused(t *testing.T) {
	r := New()
	ctx := context.Background()

	if err := r.Register(ctx, testSkill("web", "v1.0.0", []string{"fetch"})); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(ctx, testSkill("summarizer", "v1.0.0", []string{"summarize"}, "web")); err != nil {
		t.Fatalf("register: %v", err)
	}
	before := r.Snapshot()

	err := r.Unregister(ctx, "web", false)
	if !errors.IsCode(err, errors.CodeDependentsExist) {
		t.Fatalf("expected DependentsExist, got %v", err)
	}
	te := errors.AsTekhneError(err)
	deps, _ := te.Context["dependents"].([]string)
	if len(deps) != 1 || deps[0] != "summarizer" {
		t.Errorf("expected dependents [summarizer], got %v", deps)
	}

	after := r.Snapshot()
	if after.Version() != before.Version() {
		t.Errorf("refused unregister must not publish")
	}
	if _, ok := after.Capability("fetch"); !ok {
		t.Errorf("web must remain fully registered")
	}
}

func TestUnregisterForceCascades(t *testing.T) {
	r := New()
	ctx := context.Background()

	if err := r.Register(ctx, testSkill("web", "v1.0.0", []string{"fetch"})); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(ctx, testSkill("summarizer", "v1.0.0", []string{"summarize"}, "web")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(ctx, testSkill("reporter", "v1.0.0", []string{"report"}, "summarizer")); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := r.Unregister(ctx, "web", true); err != nil {
		t.Fatalf("force unregister: %v", err)
	}

	snap := r.Snapshot()
	if _, ok := snap.Skill("web"); ok {
		t.Errorf("web must be removed")
	}
	for _, name := range []string{"summarizer", "reporter"} {
		skill, ok := snap.Skill(name)
		if !ok {
			t.Fatalf("cascaded dependent %s should remain visible", name)
		}
		if skill.State != core.SkillStateDisabled {
			t.Errorf("expected %s disabled by cascade, got %s", name, skill.State)
		}
	}
	for _, capName := range []string{"fetch", "summarize", "report"} {
		if _, ok := snap.Capability(capName); ok {
			t.Errorf("capability %s must not resolve after cascade", capName)
		}
	}
}

func TestReloadSwapsAtomically(t *testing.T) {
	r := New()
	ctx := context.Background()

	if err := r.Register(ctx, testSkill("web", "v1.0.0", []string{"fetch"})); err != nil {
		t.Fatalf("register: %v", err)
	}
	old := r.Snapshot()

	if err := r.Reload(ctx, "web", testSkill("web", "v1.1.0", []string{"fetch", "post"})); err != nil {
		t.Fatalf("reload: %v", err)
	}

	// The pre-reload snapshot keeps serving the old descriptor.
	oldSkill, _ := old.Skill("web")
	if oldSkill.Version != "v1.0.0" {
		t.Errorf("old snapshot mutated: %s", oldSkill.Version)
	}
	if _, ok := old.Capability("post"); ok {
		t.Errorf("old snapshot must not see the new capability")
	}

	snap := r.Snapshot()
	newSkill, _ := snap.Skill("web")
	if newSkill.Version != "v1.1.0" {
		t.Errorf("expected v1.1.0 after reload, got %s", newSkill.Version)
	}
	if newSkill.State != core.SkillStateActive {
		t.Errorf("expected reloaded skill to reactivate, got %s", newSkill.State)
	}
	if _, ok := snap.Capability("post"); !ok {
		t.Errorf("expected new capability resolvable")
	}

	history := r.History("web")
	if len(history) != 1 || history[0].Version != "v1.0.0" {
		t.Errorf("expected replaced descriptor in history, got %+v", history)
	}
}

func TestReloadValidationLeavesOldInForce(t *testing.T) {
	r := New()
	ctx := context.Background()

	if err := r.Register(ctx, testSkill("web", "v1.0.0", []string{"fetch"})); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(ctx, testSkill("mail", "v1.0.0", []string{"send"})); err != nil {
		t.Fatalf("register: %v", err)
	}

	// The replacement claims a capability owned by mail.
	err := r.Reload(ctx, "web", testSkill("web", "v1.1.0", []string{"send"}))
	if !errors.IsCode(err, errors.CodeCapabilityConflict) {
		t.Fatalf("expected CapabilityConflict, got %v", err)
	}

	snap := r.Snapshot()
	skill, _ := snap.Skill("web")
	if skill.Version != "v1.0.0" || skill.State != core.SkillStateActive {
		t.Errorf("old descriptor must remain in force, got %s/%s", skill.Version, skill.State)
	}

	history := r.History("web")
	if len(history) != 1 || history[0].State != core.SkillStateFailed {
		t.Errorf("expected failed attempt recorded in history, got %+v", history)
	}
}

func TestReloadSelfExclusionFromConflict(t *testing.T) {
	r := New()
	ctx := context.Background()

	if err := r.Register(ctx, testSkill("web", "v1.0.0", []string{"fetch"})); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Keeping one's own capability names across a reload is not a conflict.
	if err := r.Reload(ctx, "web", testSkill("web", "v1.0.1", []string{"fetch"})); err != nil {
		t.Fatalf("reload with same capability must succeed: %v", err)
	}
}

func TestReloadNotFound(t *testing.T) {
	r := New()
	err := r.Reload(context.Background(), "ghost", testSkill("ghost", "v1.0.0", []string{"boo"}))
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestReloadReactivatesCascadedDependent(t *testing.T) {
	r := New()
	ctx := context.Background()

	if err := r.Register(ctx, testSkill("web", "v1.0.0", []string{"fetch"})); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(ctx, testSkill("summarizer", "v1.0.0", []string{"summarize"}, "web")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Unregister(ctx, "web", true); err != nil {
		t.Fatalf("force unregister: %v", err)
	}

	// Re-introduce the dependency, then reload the disabled dependent.
	if err := r.Register(ctx, testSkill("web", "v2.0.0", []string{"fetch"})); err != nil {
		t.Fatalf("re-register web: %v", err)
	}
	if err := r.Reload(ctx, "summarizer", testSkill("summarizer", "v1.0.0", []string{"summarize"}, "web")); err != nil {
		t.Fatalf("reload summarizer: %v", err)
	}

	snap := r.Snapshot()
	skill, _ := snap.Skill("summarizer")
	if skill.State != core.SkillStateActive {
		t.Errorf("expected summarizer reactivated, got %s", skill.State)
	}
	if _, ok := snap.Capability("summarize"); !ok {
		t.Errorf("expected summarize resolvable again")
	}
}

func TestSnapshotNeverBlocksAndStaysConsistent(t *testing.T) {
	r := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Writer: register and reload skills continuously.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			name := fmt.Sprintf("skill-%d", i)
			_ = r.Register(ctx, testSkill(name, "v1.0.0", []string{fmt.Sprintf("cap-%d", i)}))
			_ = r.Reload(ctx, name, testSkill(name, "v1.0.1", []string{fmt.Sprintf("cap-%d", i)}))
		}
		close(stop)
	}()

	// Readers: every snapshot must be internally consistent.
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastVersion uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := r.Snapshot()
				if snap.Version() < lastVersion {
					t.Errorf("snapshot version went backwards: %d -> %d", lastVersion, snap.Version())
					return
				}
				lastVersion = snap.Version()
				for _, cap := range snap.Capabilities() {
					skill, ok := snap.Skill(cap.Skill)
					if !ok {
						t.Errorf("capability %s references missing skill %s", cap.Name, cap.Skill)
						return
					}
					if _, ok := skill.Capability(cap.Name); !ok {
						t.Errorf("capability %s not found on its own skill", cap.Name)
						return
					}
				}
			}
		}()
	}

	wg.Wait()

	if got := r.Snapshot().Version(); got != 100 {
		t.Errorf("expected 100 mutations, got version %d", got)
	}
}

func TestRegisterAfterUnregisterReusesName(t *testing.T) {
	r := New()
	ctx := context.Background()

	if err := r.Register(ctx, testSkill("web", "v1.0.0", []string{"fetch"})); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Unregister(ctx, "web", false); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if err := r.Register(ctx, testSkill("web", "v2.0.0", []string{"fetch"})); err != nil {
		t.Fatalf("expected name reusable after unregister: %v", err)
	}

	history := r.History("web")
	if len(history) != 1 || history[0].State != core.SkillStateDisabled {
		t.Errorf("expected unregistered descriptor retained in history, got %+v", history)
	}
}

func TestHealthChecker(t *testing.T) {
	r := New()
	ctx := context.Background()

	checker := r.HealthChecker()
	if res := checker.Check(ctx); res.Status != core.HealthUnhealthy {
		t.Errorf("expected empty registry unhealthy, got %s", res.Status)
	}

	if err := r.Register(ctx, testSkill("web", "v1.0.0", []string{"fetch"})); err != nil {
		t.Fatalf("register: %v", err)
	}
	if res := checker.Check(ctx); res.Status != core.HealthHealthy {
		t.Errorf("expected healthy with one active skill, got %s", res.Status)
	}
}
