package shell

import (
	"context"
	"errors"

	"github.com/benchd/benchd/dispatch"
)

// Handlers returns the method table for a shell-execution deployment.
func (e *Executor) Handlers() map[string]dispatch.Handler {
	return map[string]dispatch.Handler{
		"execute_command": func(ctx context.Context, params dispatch.Params) (any, error) {
			command := params.String("command", "")
			if command == "" {
				return nil, errors.New("No command provided")
			}
			timeout := params.Seconds("timeout", DefaultTimeout)
			return e.Execute(ctx, command, timeout), nil
		},
		"list_allowed_commands": func(ctx context.Context, params dispatch.Params) (any, error) {
			return map[string]any{"commands": e.allow.Names()}, nil
		},
		"get_command_log": func(ctx context.Context, params dispatch.Params) (any, error) {
			limit := params.Int("limit", 10)
			return map[string]any{"log": e.Log(limit)}, nil
		},
	}
}
