// Package camera provides camera discovery, screenshot capture, and PTZ
// control backed by external programs: a platform device-inventory tool
// for discovery, a capture utility (imagesnap) for screenshots, and a
// motion-control binary for pan/tilt/zoom.
package camera

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/benchd/benchd/runner"
)

// opTimeout bounds capture and PTZ invocations. These are interactive
// operations against local hardware; anything longer is a hung driver.
const opTimeout = 10 * time.Second

// cameraKeywords classify a USB device as a camera by name.
var cameraKeywords = []string{"camera", "webcam", "usb video", "ptz", "logitech"}

// logitechVendorID marks PTZ-capable Logitech devices.
const logitechVendorID = "0x046d"

// CommandRunner is the subset of runner.Runner the manager needs.
type CommandRunner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) runner.Result
	RunPreHooks(ctx context.Context)
}

// Config holds the external program paths. Paths are injected at startup;
// an unconfigured path is reported as a failure when the operation that
// needs it is called, never a silent default.
type Config struct {
	// PTZPath is the motion-control binary, invoked as "<path> <axis> <value>".
	PTZPath string
	// ImagesnapPath is the capture utility, invoked as "<path> -d <camera> <file>".
	ImagesnapPath string
	// InventoryCommand queries the platform device inventory and must print
	// JSON. Defaults to "system_profiler SPUSBDataType -json".
	InventoryCommand []string
	// ScreenshotDir receives capture files when the caller does not name an
	// output path. Defaults to the system temp dir.
	ScreenshotDir string
}

// Camera describes one discovered camera.
type Camera struct {
	Name       string `json:"name"`
	VendorID   string `json:"vendor_id"`
	ProductID  string `json:"product_id"`
	Type       string `json:"type"`
	PTZCapable bool   `json:"ptz_capable"`
}

// Manager owns the camera operations and a cache of the last discovery.
type Manager struct {
	cfg Config
	run CommandRunner
	log *zap.SugaredLogger

	mu       sync.Mutex
	cache    map[string]Camera
	lastScan time.Time
}

type Option func(m *Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.log = l.Named("camera").Sugar()
	}
}

func NewManager(cfg Config, run CommandRunner, opts ...Option) *Manager {
	if len(cfg.InventoryCommand) == 0 {
		cfg.InventoryCommand = []string{"system_profiler", "SPUSBDataType", "-json"}
	}
	if cfg.ScreenshotDir == "" {
		cfg.ScreenshotDir = os.TempDir()
	}
	m := &Manager{
		cfg:   cfg,
		run:   run,
		log:   zap.NewNop().Sugar(),
		cache: map[string]Camera{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// DiscoverResult is the result of a discovery scan.
type DiscoverResult struct {
	Success bool     `json:"success"`
	Cameras []Camera `json:"cameras"`
	Count   int      `json:"count"`
	Error   string   `json:"error,omitempty"`
}

// usbInventory matches the system_profiler SPUSBDataType -json layout.
type usbInventory struct {
	SPUSBDataType []usbDevice `json:"SPUSBDataType"`
}

type usbDevice struct {
	Name      string      `json:"_name"`
	VendorID  string      `json:"vendor_id"`
	ProductID string      `json:"product_id"`
	Items     []usbDevice `json:"_items"`
}

// Discover scans the device inventory and the capture utility's device
// list, merges the two, and refreshes the camera cache. Inventory
// failures degrade the scan rather than failing it: a camera visible to
// only one source is still reported.
func (m *Manager) Discover(ctx context.Context) DiscoverResult {
	var cameras []Camera
	seen := map[string]bool{}

	inv := m.run.Run(ctx, opTimeout, m.cfg.InventoryCommand[0], m.cfg.InventoryCommand[1:]...)
	if inv.Success {
		var parsed usbInventory
		if err := json.Unmarshal([]byte(inv.Stdout), &parsed); err != nil {
			m.log.Debugf("unparsable device inventory output: %s", err)
		} else {
			walkDevices(parsed.SPUSBDataType, func(dev usbDevice) {
				if !isCameraDevice(dev) || seen[dev.Name] {
					return
				}
				seen[dev.Name] = true
				cameras = append(cameras, Camera{
					Name:       dev.Name,
					VendorID:   dev.VendorID,
					ProductID:  dev.ProductID,
					Type:       "USB",
					PTZCapable: isPTZDevice(dev),
				})
			})
		}
	}

	if m.cfg.ImagesnapPath != "" {
		list := m.run.Run(ctx, opTimeout, m.cfg.ImagesnapPath, "-l")
		if list.Success {
			for _, line := range strings.Split(list.Stdout, "\n") {
				name := strings.TrimSpace(line)
				if name == "" || strings.HasPrefix(name, "Video Devices:") || seen[name] {
					continue
				}
				seen[name] = true
				cameras = append(cameras, Camera{
					Name:       name,
					Type:       "Video",
					PTZCapable: strings.Contains(strings.ToUpper(name), "PTZ"),
				})
			}
		}
	}

	m.mu.Lock()
	m.cache = map[string]Camera{}
	for _, cam := range cameras {
		m.cache[cam.Name] = cam
	}
	m.lastScan = time.Now()
	m.mu.Unlock()

	if cameras == nil {
		cameras = []Camera{}
	}
	return DiscoverResult{Success: true, Cameras: cameras, Count: len(cameras)}
}

func walkDevices(devices []usbDevice, visit func(usbDevice)) {
	for _, dev := range devices {
		visit(dev)
		walkDevices(dev.Items, visit)
	}
}

func isCameraDevice(dev usbDevice) bool {
	name := strings.ToLower(dev.Name)
	for _, kw := range cameraKeywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

func isPTZDevice(dev usbDevice) bool {
	return strings.Contains(strings.ToLower(dev.Name), "ptz") || dev.VendorID == logitechVendorID
}

// Status reports tool availability and cache state.
type Status struct {
	Success            bool   `json:"success"`
	PTZAvailable       bool   `json:"ptz_available"`
	ImagesnapAvailable bool   `json:"imagesnap_available"`
	LastCameraScan     string `json:"last_camera_scan,omitempty"`
	CachedCameras      int    `json:"cached_cameras"`
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	lastScan := m.lastScan
	cached := len(m.cache)
	m.mu.Unlock()

	s := Status{
		Success:            true,
		PTZAvailable:       fileExists(m.cfg.PTZPath),
		ImagesnapAvailable: fileExists(m.cfg.ImagesnapPath),
		CachedCameras:      cached,
	}
	if !lastScan.IsZero() {
		s.LastCameraScan = lastScan.UTC().Format(time.RFC3339)
	}
	return s
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// ScreenshotResult is the result of a capture.
type ScreenshotResult struct {
	Success    bool   `json:"success"`
	OutputPath string `json:"output_path"`
	ImageData  string `json:"image_data,omitempty"`
	CameraName string `json:"camera_name,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Screenshot captures one frame from the named camera into outputPath and
// returns the image bytes base64-encoded. An empty outputPath gets a
// timestamped file in the configured screenshot dir.
func (m *Manager) Screenshot(ctx context.Context, cameraName, outputPath string) ScreenshotResult {
	if m.cfg.ImagesnapPath == "" {
		return ScreenshotResult{Error: "capture utility path not configured"}
	}
	if outputPath == "" {
		outputPath = fmt.Sprintf("%s/camera_screenshot_%s.jpg", m.cfg.ScreenshotDir, time.Now().Format("20060102_150405"))
	}

	// The capture daemon holds an exclusive device lock on some platforms.
	m.run.RunPreHooks(ctx)

	res := m.run.Run(ctx, opTimeout, m.cfg.ImagesnapPath, "-d", cameraName, outputPath)
	if !res.Success {
		reason := res.Stderr
		if reason == "" {
			reason = res.Error
		}
		if reason == "" {
			reason = "Unknown error"
		}
		return ScreenshotResult{OutputPath: outputPath, Error: fmt.Sprintf("Screenshot failed: %s", reason)}
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return ScreenshotResult{OutputPath: outputPath, Error: fmt.Sprintf("Screenshot failed: %s", err)}
	}

	return ScreenshotResult{
		Success:    true,
		OutputPath: outputPath,
		ImageData:  base64.StdEncoding.EncodeToString(data),
		CameraName: cameraName,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
}
