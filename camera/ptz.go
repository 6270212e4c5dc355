package camera

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// maxSteps bounds the magnitude of a numeric PTZ step value. Larger moves
// can drive the camera head against its mechanical stop.
const maxSteps = 1000

var (
	validCommands = []string{"pan", "tilt", "zoom"}
	validPresets  = []string{"min", "max", "middle"}
)

// ControlResult is the result of a PTZ command, including validation
// rejections: those come back with Success=false and an Error message,
// produced before any process is launched.
type ControlResult struct {
	Success bool   `json:"success"`
	Command string `json:"command,omitempty"`
	Value   string `json:"value,omitempty"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Control validates and executes one PTZ command. The command must be one
// of pan, tilt, zoom; the value must be a preset (min, max, middle) or a
// signed step count with magnitude at most maxSteps.
func (m *Manager) Control(ctx context.Context, command, value string) ControlResult {
	res := ControlResult{Command: command, Value: value}

	if m.cfg.PTZPath == "" {
		res.Error = "PTZ control binary not configured"
		return res
	}
	if !fileExists(m.cfg.PTZPath) {
		res.Error = fmt.Sprintf("PTZ control binary not found at %s", m.cfg.PTZPath)
		return res
	}

	if err := validateControl(command, value); err != "" {
		res.Error = err
		return res
	}

	// The capture daemon holds an exclusive device lock on some platforms.
	m.run.RunPreHooks(ctx)

	out := m.run.Run(ctx, opTimeout, m.cfg.PTZPath, command, value)
	res.Success = out.Success
	res.Output = out.Stdout
	if !out.Success {
		res.Error = out.Stderr
		if res.Error == "" {
			res.Error = out.Error
		}
	}
	return res
}

// validateControl returns the rejection message for an invalid
// command/value pair, or "" when the pair is acceptable.
func validateControl(command, value string) string {
	valid := false
	for _, c := range validCommands {
		if command == c {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Sprintf("Invalid command '%s'. Must be one of: %s", command, strings.Join(validCommands, ", "))
	}

	if value == "" {
		return fmt.Sprintf("Command '%s' requires a value parameter", command)
	}

	for _, p := range validPresets {
		if value == p {
			return ""
		}
	}

	steps, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Sprintf("Invalid value '%s'. Must be one of: %s or a number of steps",
			value, strings.Join(validPresets, ", "))
	}
	if steps > maxSteps || steps < -maxSteps {
		return fmt.Sprintf("Step value '%d' exceeds safe range (-%d to %d)", steps, maxSteps, maxSteps)
	}
	return ""
}
