package camera

import (
	"context"
	"errors"
	"strconv"

	"github.com/benchd/benchd/dispatch"
)

// DefaultCameraName is used when a screenshot request names no camera.
const DefaultCameraName = "PTZ Pro Camera"

// Handlers returns the method table for a camera deployment.
func (m *Manager) Handlers() map[string]dispatch.Handler {
	return map[string]dispatch.Handler{
		"list_cameras": func(ctx context.Context, params dispatch.Params) (any, error) {
			return m.Discover(ctx), nil
		},
		"take_screenshot": func(ctx context.Context, params dispatch.Params) (any, error) {
			cameraName := params.String("camera_name", DefaultCameraName)
			outputPath := params.String("output_path", "")
			return m.Screenshot(ctx, cameraName, outputPath), nil
		},
		"ptz_control": func(ctx context.Context, params dispatch.Params) (any, error) {
			command := params.String("command", "")
			if command == "" {
				return nil, errors.New("No PTZ command provided")
			}
			value := params.String("value", "")
			if value == "" {
				// Step counts may arrive as JSON numbers.
				if n, ok := params["value"].(float64); ok {
					value = strconv.FormatInt(int64(n), 10)
				}
			}
			return m.Control(ctx, command, value), nil
		},
		"get_camera_status": func(ctx context.Context, params dispatch.Params) (any, error) {
			return m.Status(), nil
		},
	}
}
