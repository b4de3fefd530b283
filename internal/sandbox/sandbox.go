// Package sandbox adapts the Daytona-backed execution environment the
// orchestrator drives the MCP bridge inside. Per spec §1 the sandbox's
// internals are opaque; this package exposes only the four primitives the
// orchestrator needs against it: Wake, WaitReady, Exec and WSConnect. It is
// grounded on the teacher's internal/tools/sandbox/daytona.go client (API
// wiring, auth header, proxy URL resolution) trimmed down from a full
// code-execution harness (workspace upload, per-file permissioning, run-dir
// bookkeeping) to these four calls, since code execution itself is out of
// scope here — the sandbox hosts the bridge process, nothing else.
package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	apiclient "github.com/daytonaio/daytona/libs/api-client-go"
	toolbox "github.com/daytonaio/daytona/libs/toolbox-api-client-go"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/outie/internal/kinderr"
)

// Config configures the Daytona-backed sandbox.
type Config struct {
	APIKey       string
	APIURL       string
	SandboxID    string // id of the pre-provisioned sandbox to drive; required (Open rejects an empty id)
	ReadyRetries int
	ReadyDelay   time.Duration
}

func (c Config) withDefaults() Config {
	if c.APIURL == "" {
		c.APIURL = "https://app.daytona.io/api"
	}
	if c.ReadyRetries <= 0 {
		c.ReadyRetries = 30
	}
	if c.ReadyDelay <= 0 {
		c.ReadyDelay = time.Second
	}
	return c
}

// Sandbox is the opaque execution environment handle.
type Sandbox struct {
	cfg       Config
	apiClient *apiclient.APIClient
	toolbox   *toolbox.APIClient
	proxyURL  string
}

// Open resolves a Daytona sandbox by id and prepares the toolbox client used
// for Exec and proxy URL resolution (wsConnect dials through the same
// proxy). It does not itself wait for readiness; call WaitReady.
func Open(ctx context.Context, cfg Config) (*Sandbox, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, kinderr.New(kinderr.SandboxUnavailable, "sandbox.Open", fmt.Errorf("api key is required"))
	}
	if cfg.SandboxID == "" {
		return nil, kinderr.New(kinderr.SandboxUnavailable, "sandbox.Open", fmt.Errorf("sandbox id is required"))
	}

	scheme, host, basePath, err := parseBaseURL(cfg.APIURL)
	if err != nil {
		return nil, kinderr.New(kinderr.SandboxUnavailable, "sandbox.Open", err)
	}

	apiCfg := apiclient.NewConfiguration()
	apiCfg.Host = host
	apiCfg.Scheme = scheme
	apiCfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	apiCfg.AddDefaultHeader("X-Daytona-Source", "outie")
	apiCfg.Servers = apiclient.ServerConfigurations{{URL: fmt.Sprintf("%s://%s%s", scheme, host, basePath)}}

	s := &Sandbox{cfg: cfg, apiClient: apiclient.NewAPIClient(apiCfg)}

	proxyURL, err := s.fetchProxyURL(ctx)
	if err != nil {
		return nil, err
	}
	s.proxyURL = proxyURL

	tc, err := s.toolboxClient()
	if err != nil {
		return nil, err
	}
	s.toolbox = tc

	return s, nil
}

func (s *Sandbox) authCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, apiclient.ContextAccessToken, s.cfg.APIKey)
}

func (s *Sandbox) fetchProxyURL(ctx context.Context) (string, error) {
	result, httpResp, err := s.apiClient.SandboxAPI.GetToolboxProxyUrl(s.authCtx(ctx), s.cfg.SandboxID).Execute()
	if err != nil {
		return "", kinderr.New(kinderr.SandboxUnavailable, "sandbox.fetchProxyURL", apiErr(err, httpResp))
	}
	return strings.TrimRight(result.GetUrl(), "/"), nil
}

func (s *Sandbox) toolboxClient() (*toolbox.APIClient, error) {
	toolboxURL := fmt.Sprintf("%s/%s", s.proxyURL, s.cfg.SandboxID)
	scheme, host, basePath, err := parseBaseURL(toolboxURL)
	if err != nil {
		return nil, kinderr.New(kinderr.SandboxUnavailable, "sandbox.toolboxClient", err)
	}
	cfg := toolbox.NewConfiguration()
	cfg.Host = host
	cfg.Scheme = scheme
	cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	cfg.AddDefaultHeader("Authorization", "Bearer "+s.cfg.APIKey)
	cfg.AddDefaultHeader("X-Daytona-Source", "outie")
	cfg.Servers = toolbox.ServerConfigurations{{URL: fmt.Sprintf("%s://%s%s", scheme, host, basePath)}}
	return toolbox.NewAPIClient(cfg), nil
}

// Wake starts a stopped sandbox, or is a no-op if it is already running.
func (s *Sandbox) Wake(ctx context.Context) error {
	sb, httpResp, err := s.apiClient.SandboxAPI.GetSandbox(s.authCtx(ctx), s.cfg.SandboxID).Execute()
	if err != nil {
		return kinderr.New(kinderr.SandboxUnavailable, "sandbox.Wake", apiErr(err, httpResp))
	}
	switch sb.GetState() {
	case apiclient.SANDBOXSTATE_STARTED:
		return nil
	case apiclient.SANDBOXSTATE_STOPPED:
		_, httpResp, err := s.apiClient.SandboxAPI.StartSandbox(s.authCtx(ctx), s.cfg.SandboxID).Execute()
		if err != nil {
			return kinderr.New(kinderr.SandboxUnavailable, "sandbox.Wake", apiErr(err, httpResp))
		}
		return nil
	default:
		return kinderr.New(kinderr.SandboxUnavailable, "sandbox.Wake", fmt.Errorf("sandbox in unwakeable state %s", sb.GetState()))
	}
}

// WaitReady polls exec("echo ready") up to ReadyRetries times, spaced
// ReadyDelay apart, the way the teacher's executor.waitForSandbox polls
// sandbox state — generalised here to poll command execution instead of
// state, since state=STARTED does not guarantee the bridge process inside
// has finished booting.
func (s *Sandbox) WaitReady(ctx context.Context) error {
	var lastErr error
	for i := 0; i < s.cfg.ReadyRetries; i++ {
		res, err := s.Exec(ctx, "echo ready")
		if err == nil && strings.TrimSpace(res.Stdout) == "ready" {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.ReadyDelay):
		}
	}
	return kinderr.New(kinderr.SandboxUnavailable, "sandbox.WaitReady", fmt.Errorf("not ready after %d attempts: %w", s.cfg.ReadyRetries, lastErr))
}

// ExecResult is the outcome of a command run inside the sandbox.
type ExecResult struct {
	Stdout   string
	ExitCode int
}

// Exec runs a shell command inside the sandbox and returns its stdout and
// exit code.
func (s *Sandbox) Exec(ctx context.Context, command string) (ExecResult, error) {
	req := toolbox.NewExecuteRequest(command)
	resp, httpResp, err := s.toolbox.ProcessAPI.ExecuteCommand(ctx).Request(*req).Execute()
	if err != nil {
		return ExecResult{}, kinderr.New(kinderr.SandboxUnavailable, "sandbox.Exec", apiErr(err, httpResp))
	}
	exitCode := 0
	if resp.ExitCode != nil {
		exitCode = int(*resp.ExitCode)
	}
	return ExecResult{Stdout: resp.Result, ExitCode: exitCode}, nil
}

// WSConnect dials the sandbox's WS-UPLINK endpoint, used by
// internal/mcp/uplink to carry JSON-RPC tool calls into the bridge running
// inside the sandbox.
func (s *Sandbox) WSConnect(ctx context.Context, path string) (*websocket.Conn, error) {
	u, err := url.Parse(s.proxyURL + "/" + s.cfg.SandboxID + path)
	if err != nil {
		return nil, kinderr.New(kinderr.SandboxUnavailable, "sandbox.WSConnect", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, kinderr.New(kinderr.SandboxUnavailable, "sandbox.WSConnect", err)
	}
	return conn, nil
}

func parseBaseURL(raw string) (scheme, host, basePath string, err error) {
	normalized := strings.TrimSpace(raw)
	if !strings.Contains(normalized, "://") {
		normalized = "https://" + normalized
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return "", "", "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", "", fmt.Errorf("invalid url: %s", raw)
	}
	return u.Scheme, u.Host, strings.TrimRight(u.Path, "/"), nil
}

func apiErr(err error, resp *http.Response) error {
	if resp == nil {
		return err
	}
	return fmt.Errorf("%s (status %s)", err.Error(), resp.Status)
}
