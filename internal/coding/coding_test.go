package coding

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/outie/internal/engine"
	"github.com/haasonsaas/outie/internal/store"
	"github.com/haasonsaas/outie/pkg/models"
)

type fakeSandbox struct {
	execs []string
}

func (f *fakeSandbox) Exec(ctx context.Context, command string) (string, int, error) {
	f.execs = append(f.execs, command)
	if command == "test -d repo/.git" {
		return "", 1, nil // force clone path
	}
	return "", 0, nil
}

type fakeEngine struct {
	prompted engine.PromptRequest
}

func (f *fakeEngine) CreateSession(ctx context.Context, req engine.CreateSessionRequest) (engine.Session, error) {
	return engine.Session{ID: "sess-new"}, nil
}
func (f *fakeEngine) GetSession(ctx context.Context, id string) (*engine.Session, error) {
	return nil, nil
}
func (f *fakeEngine) Prompt(ctx context.Context, req engine.PromptRequest) (engine.PromptResponse, error) {
	f.prompted = req
	return engine.PromptResponse{Parts: []engine.Part{{Type: engine.PartText, Text: "done"}}}, nil
}
func (f *fakeEngine) Abort(ctx context.Context, id string) error { return nil }
func (f *fakeEngine) Subscribe(ctx context.Context, onEvent func(engine.Event)) (func(), error) {
	return func() {}, nil
}

type fakeClassifier struct{}

func (fakeClassifier) Classify(ctx context.Context, state *models.CodingTaskState, task string) (Decision, error) {
	return Decision{Action: "continue"}, nil
}

func newTestOrchestrator(t *testing.T, now time.Time) (*Orchestrator, *fakeSandbox, *fakeEngine) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "o.db"), 4)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sb := &fakeSandbox{}
	eng := &fakeEngine{}
	o := New(Config{GitHubApp: GitHubAppConfig{ClientID: "app-1"}}, st, sb, eng, fakeClassifier{}, func() time.Time { return now })
	o.tokenFn = func(ctx context.Context) (string, error) { return "fake-token", nil }
	return o, sb, eng
}

func TestRunTaskCreatesNewBranchWhenNoPriorState(t *testing.T) {
	now := time.Now()
	o, sb, eng := newTestOrchestrator(t, now)

	resp, err := o.RunTask(context.Background(), "https://github.com/acme/widgets", "add tests")
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if resp != "done" {
		t.Errorf("expected engine response 'done', got %q", resp)
	}
	if eng.prompted.ID == "" {
		t.Error("expected a prompt to be issued with a session id")
	}

	found := false
	for _, c := range sb.execs {
		if c == "test -d repo/.git" {
			found = true
		}
	}
	if !found {
		t.Error("expected orchestrator to probe for an existing checkout")
	}

	state, err := o.store.GetCodingTaskState(context.Background(), "https://github.com/acme/widgets")
	if err != nil || state == nil {
		t.Fatalf("expected saved state, err=%v state=%+v", err, state)
	}
	if state.Branch == "" {
		t.Error("expected a branch name to be recorded")
	}
}

func TestRunTaskStartsFreshWhenStale(t *testing.T) {
	now := time.Now()
	o, _, _ := newTestOrchestrator(t, now)

	stale := &models.CodingTaskState{
		RepoURL:       "https://github.com/acme/widgets",
		Branch:        "outie/old-abc123",
		SessionID:     "sess-old",
		LastTask:      "old task",
		LastTimestamp: now.Add(-48 * time.Hour).UnixMilli(),
	}
	if err := o.store.SaveCodingTaskState(context.Background(), stale); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	branch, sessionID, isNew, err := o.decideContinuation(context.Background(), stale, "new task")
	if err != nil {
		t.Fatalf("decideContinuation: %v", err)
	}
	if !isNew || sessionID != "" || branch == stale.Branch {
		t.Errorf("expected fresh branch/session for stale state, got branch=%q session=%q isNew=%v", branch, sessionID, isNew)
	}
}
