package tools

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/outie/internal/kinderr"
)

// CodingRunner is the narrow interface tools.run_coding_task needs from
// internal/coding, kept here to avoid a dependency cycle.
type CodingRunner interface {
	RunTask(ctx context.Context, repoURL, task string) (string, error)
}

// RegisterCodingTools wires run_coding_task (spec §4.10) into r.
func RegisterCodingTools(r *Registry, runner CodingRunner) {
	r.Register(Tool{
		Name:        "run_coding_task",
		Description: "Run a coding task against a repository, continuing its prior session when one is still fresh.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["repo_url", "task"],
			"properties": {
				"repo_url": {"type": "string", "minLength": 1},
				"task": {"type": "string", "minLength": 1}
			}
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct {
				RepoURL string `json:"repo_url"`
				Task    string `json:"task"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return Result{}, kinderr.New(kinderr.InputInvalid, "run_coding_task", err)
			}
			if runner == nil {
				return ErrorResult("no coding runner configured"), nil
			}
			out, err := runner.RunTask(ctx, in.RepoURL, in.Task)
			if err != nil {
				return ErrorResult(err.Error()), nil
			}
			return TextResult(out), nil
		},
	})
}
