// Package coding implements the coding-task orchestration specialisation
// (spec §4.10): continuation-vs-new decision, GitHub App installation
// token minting, and driving the reasoning engine against a sandbox
// checkout until the tree is clean and pushed. JWT minting follows the
// teacher's internal/auth.JWTService shape (claims struct embedding
// jwt.RegisteredClaims, golang-jwt/jwt/v5), switched from the teacher's
// HS256 user-session tokens to GitHub's required RS256 app JWT.
package coding

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/haasonsaas/outie/internal/engine"
	"github.com/haasonsaas/outie/internal/kinderr"
	"github.com/haasonsaas/outie/internal/store"
	"github.com/haasonsaas/outie/pkg/models"
)

// Sandbox is the narrow set of sandbox primitives coding-task
// orchestration needs, kept local to avoid a dependency on the concrete
// internal/sandbox.Sandbox type.
type Sandbox interface {
	Exec(ctx context.Context, command string) (stdout string, exitCode int, err error)
}

// Classifier asks the fast model to decide continuation vs. new branch
// for a task last touched within the staleness window (spec §4.10 step 2). Implementations
// wrap a cheap/fast engine.Client call; kept separate from engine.Client
// itself since the classification prompt and its strict-JSON parsing are
// specific to this decision, not a general engine concern.
type Classifier interface {
	Classify(ctx context.Context, state *models.CodingTaskState, task string) (Decision, error)
}

// Decision is the fast model's strict-JSON continuation verdict.
type Decision struct {
	Action string `json:"action"` // "continue" | "new"
	Branch string `json:"branch,omitempty"`
}

// EngineClassifier is the default Classifier, asking a cheap model via
// the same engine.Client session API for a strict-JSON verdict. A
// malformed or non-JSON reply falls back to "new" (spec §4.10 step 2).
type EngineClassifier struct {
	Eng   engine.Client
	Model string
}

func (c EngineClassifier) Classify(ctx context.Context, state *models.CodingTaskState, task string) (Decision, error) {
	sess, err := c.Eng.CreateSession(ctx, engine.CreateSessionRequest{Title: "coding-task classifier"})
	if err != nil {
		return Decision{Action: "new"}, err
	}

	prompt := fmt.Sprintf(
		"A coding task is potentially a continuation of prior work.\n"+
			"Prior task: %q on branch %q (last touched %s).\n"+
			"New task: %q.\n"+
			"Reply with strict JSON only: either {\"action\":\"continue\"} or "+
			"{\"action\":\"new\",\"branch\":\"<prefix>/<slug>\"}.",
		state.LastTask, state.Branch, time.UnixMilli(state.LastTimestamp).Format(time.RFC3339), task,
	)

	resp, err := c.Eng.Prompt(ctx, engine.PromptRequest{
		ID:   sess.ID,
		Body: engine.PromptBody{Model: c.Model, Parts: []engine.Part{{Type: engine.PartText, Text: prompt}}},
	})
	if err != nil {
		return Decision{Action: "new"}, err
	}

	var decision Decision
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Text())), &decision); err != nil {
		return Decision{Action: "new"}, nil
	}
	return decision, nil
}

// GitHubAppConfig configures installation-token minting.
type GitHubAppConfig struct {
	ClientID      string // JWT issuer
	PrivateKeyPEM string
	InstallID     string
}

// Config configures the orchestrator.
type Config struct {
	GitHubApp  GitHubAppConfig
	StaleAfter time.Duration // default 24h
}

func (c Config) withDefaults() Config {
	if c.StaleAfter <= 0 {
		c.StaleAfter = 24 * time.Hour
	}
	return c
}

// Orchestrator implements tools.CodingRunner against a Store, a Sandbox,
// a reasoning-engine Client, and a Classifier.
type Orchestrator struct {
	cfg        Config
	store      store.Store
	sandbox    Sandbox
	eng        engine.Client
	classifier Classifier
	nowFn      func() time.Time
	tokenFn    func(ctx context.Context) (string, error) // overridable in tests
}

func New(cfg Config, st store.Store, sb Sandbox, eng engine.Client, classifier Classifier, nowFn func() time.Time) *Orchestrator {
	if nowFn == nil {
		nowFn = time.Now
	}
	o := &Orchestrator{cfg: cfg.withDefaults(), store: st, sandbox: sb, eng: eng, classifier: classifier, nowFn: nowFn}
	o.tokenFn = o.mintInstallationToken
	return o
}

var slugInvalidChars = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugInvalidChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "task"
	}
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}

func randomHex6() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// RunTask implements tools.CodingRunner (spec §4.10).
func (o *Orchestrator) RunTask(ctx context.Context, repoURL, task string) (string, error) {
	state, err := o.store.GetCodingTaskState(ctx, repoURL)
	if err != nil {
		return "", kinderr.New(kinderr.StorageRetryable, "coding.runtask", err)
	}

	branch, sessionID, isNew, err := o.decideContinuation(ctx, state, task)
	if err != nil {
		return "", err
	}

	installToken, err := o.tokenFn(ctx)
	if err != nil {
		return "", kinderr.New(kinderr.ToolFailed, "coding.runtask", fmt.Errorf("mint installation token: %w", err))
	}

	if err := o.prepareCheckout(ctx, repoURL, branch, isNew, installToken); err != nil {
		return "", kinderr.New(kinderr.ToolFailed, "coding.runtask", fmt.Errorf("prepare checkout: %w", err))
	}

	sessionID, err = o.ensureSession(ctx, sessionID, repoURL)
	if err != nil {
		return "", kinderr.New(kinderr.ToolFailed, "coding.runtask", err)
	}

	resp, err := o.eng.Prompt(ctx, engine.PromptRequest{
		ID: sessionID,
		Body: engine.PromptBody{
			Parts: []engine.Part{{Type: engine.PartText, Text: codingPrompt(task)}},
		},
	})
	if err != nil {
		return "", kinderr.New(kinderr.EngineUnavailable, "coding.runtask", err)
	}

	if err := o.driveToClean(ctx, sessionID); err != nil {
		return "", kinderr.New(kinderr.ToolFailed, "coding.runtask", fmt.Errorf("commit gate: %w", err))
	}

	if err := o.store.SaveCodingTaskState(ctx, &models.CodingTaskState{
		RepoURL:       repoURL,
		Branch:        branch,
		SessionID:     sessionID,
		LastTask:      task,
		LastTimestamp: o.nowFn().UnixMilli(),
	}); err != nil {
		return "", kinderr.New(kinderr.StorageRetryable, "coding.runtask", err)
	}

	return resp.Text(), nil
}

// decideContinuation implements spec §4.10 step 2.
func (o *Orchestrator) decideContinuation(ctx context.Context, state *models.CodingTaskState, task string) (branch, sessionID string, isNew bool, err error) {
	if state == nil || o.nowFn().Sub(time.UnixMilli(state.LastTimestamp)) > o.cfg.StaleAfter {
		suffix, err := randomHex6()
		if err != nil {
			return "", "", false, err
		}
		return fmt.Sprintf("outie/%s-%s", slugify(task), suffix), "", true, nil
	}

	decision, err := o.classifier.Classify(ctx, state, task)
	if err != nil || decision.Action != "continue" {
		// Fallback to new on classification error or explicit "new" (spec §4.10 step 2).
		suffix, hexErr := randomHex6()
		if hexErr != nil {
			return "", "", false, hexErr
		}
		b := decision.Branch
		if b == "" {
			b = fmt.Sprintf("outie/%s-%s", slugify(task), suffix)
		}
		return b, "", true, nil
	}
	return state.Branch, state.SessionID, false, nil
}

// prepareCheckout clones or fetches the repo and checks out the branch,
// falling back to branching off current HEAD if branch creation fails
// (spec §4.10 failure semantics).
func (o *Orchestrator) prepareCheckout(ctx context.Context, repoURL, branch string, isNew bool, installToken string) error {
	authedURL := withInstallToken(repoURL, installToken)

	if _, exitCode, err := o.sandbox.Exec(ctx, "test -d repo/.git"); err != nil || exitCode != 0 {
		cloneCmd := fmt.Sprintf("git clone --depth 1 %s repo", shellQuote(authedURL))
		if _, exitCode, err := o.sandbox.Exec(ctx, cloneCmd); err != nil || exitCode != 0 {
			return fmt.Errorf("clone failed (exit %d): %w", exitCode, err)
		}
	} else {
		if _, _, err := o.sandbox.Exec(ctx, "cd repo && git fetch --depth 1 origin"); err != nil {
			return fmt.Errorf("fetch failed: %w", err)
		}
	}

	if !isNew {
		checkoutCmd := fmt.Sprintf("cd repo && git checkout %s && git pull --rebase origin %s", shellQuote(branch), shellQuote(branch))
		if _, _, err := o.sandbox.Exec(ctx, checkoutCmd); err != nil {
			return fmt.Errorf("checkout existing branch failed: %w", err)
		}
		return nil
	}

	createCmd := fmt.Sprintf("cd repo && git checkout -b %s", shellQuote(branch))
	if _, exitCode, err := o.sandbox.Exec(ctx, createCmd); err != nil || exitCode != 0 {
		// Branch-create failure falls back to branching from current HEAD.
		fallback := fmt.Sprintf("cd repo && git checkout -B %s", shellQuote(branch))
		if _, _, ferr := o.sandbox.Exec(ctx, fallback); ferr != nil {
			return fmt.Errorf("branch create failed and fallback failed: %w", ferr)
		}
	}
	return nil
}

// ensureSession resumes sessionID if present and still live, otherwise
// creates a fresh engine session (spec §4.10 failure semantics:
// engine-session-not-found on resume falls back to a fresh session).
func (o *Orchestrator) ensureSession(ctx context.Context, sessionID, repoURL string) (string, error) {
	if sessionID != "" {
		sess, err := o.eng.GetSession(ctx, sessionID)
		if err == nil && sess != nil {
			return sess.ID, nil
		}
	}
	sess, err := o.eng.CreateSession(ctx, engine.CreateSessionRequest{Title: "coding: " + repoURL, Directory: "repo"})
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

func codingPrompt(task string) string {
	return "Implement the following task in this repository, then commit and push your changes:\n\n" + task
}

// commitGateNudge is the follow-up prompt injected while the session
// goes idle with a dirty or unpushed tree (spec §4.10 step 5).
const commitGateNudge = "The working tree still has uncommitted changes or commits not pushed to origin. Commit and push before finishing."

// maxCommitGateRounds backstops the follow-up loop alongside the
// cycle-break guard, in case idle events keep arriving without the
// guard tripping.
const maxCommitGateRounds = 10

// gitState hashes the repo's dirty/unpushed state for the cycle-break
// guard and reports whether it is dirty at all.
func (o *Orchestrator) gitState(ctx context.Context) (hash string, dirty bool, err error) {
	porcelain, _, err := o.sandbox.Exec(ctx, "cd repo && git status --porcelain")
	if err != nil {
		return "", false, fmt.Errorf("git status: %w", err)
	}
	unpushed, _, err := o.sandbox.Exec(ctx, "cd repo && git log @{u}.. --format=%H 2>/dev/null")
	if err != nil {
		return "", false, fmt.Errorf("git log: %w", err)
	}
	state := porcelain + unpushed
	sum := sha256.Sum256([]byte(state))
	return hex.EncodeToString(sum[:]), strings.TrimSpace(state) != "", nil
}

// driveToClean implements the commit-gate plugin (spec §4.10 step 5,
// §9): a session must not end idle with a dirty tree or unpushed
// commits. While dirty, it subscribes to the engine's idle events and
// injects a follow-up prompt on each one, until the tree is clean or
// the same state hash repeats (the cycle-break guard, meaning the
// follow-up made no progress).
func (o *Orchestrator) driveToClean(ctx context.Context, sessionID string) error {
	lastHash, dirty, err := o.gitState(ctx)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}

	idle := make(chan struct{}, 1)
	notify := func(ev engine.Event) {
		if ev.Kind != engine.EventIdle || ev.SessionID != sessionID {
			return
		}
		select {
		case idle <- struct{}{}:
		default:
		}
	}
	unsubscribe, subErr := o.eng.Subscribe(ctx, notify)
	if subErr == nil {
		defer unsubscribe()
	}

	for round := 0; round < maxCommitGateRounds; round++ {
		if _, err := o.eng.Prompt(ctx, engine.PromptRequest{
			ID:   sessionID,
			Body: engine.PromptBody{Parts: []engine.Part{{Type: engine.PartText, Text: commitGateNudge}}},
		}); err != nil {
			return err
		}

		if subErr == nil {
			select {
			case <-idle:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		hash, dirty, err := o.gitState(ctx)
		if err != nil {
			return err
		}
		if !dirty {
			return nil
		}
		if hash == lastHash {
			return nil
		}
		lastHash = hash
	}
	return nil
}

func withInstallToken(repoURL, token string) string {
	if !strings.HasPrefix(repoURL, "https://") {
		return repoURL
	}
	return strings.Replace(repoURL, "https://", fmt.Sprintf("https://x-access-token:%s@", token), 1)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// mintInstallationToken implements spec §4.10 step 3: a 10-minute JWT
// (60s-backdated iat, issuer=client-id, RS256) exchanged for a 1h
// installation access token.
func (o *Orchestrator) mintInstallationToken(ctx context.Context) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(o.cfg.GitHubApp.PrivateKeyPEM))
	if err != nil {
		return "", fmt.Errorf("parse app private key: %w", err)
	}

	now := o.nowFn()
	claims := jwt.RegisteredClaims{
		Issuer:    o.cfg.GitHubApp.ClientID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
	}
	appJWT, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign app jwt: %w", err)
	}

	url := fmt.Sprintf("https://api.github.com/app/installations/%s/access_tokens", o.cfg.GitHubApp.InstallID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange installation token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("installation token exchange returned status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode installation token response: %w", err)
	}
	return out.Token, nil
}
