package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrInvalidConfig is returned by Validate for malformed camera sources,
// device addresses or grid layouts.
var ErrInvalidConfig = errors.New("invalid configuration")

const defaultDeviceURLs = "1=http://192.168.137.101,2=http://192.168.137.102,3=http://192.168.137.103,4=http://192.168.137.104"

type Config struct {
	Port         int
	Password     string
	LogDirectory string
	DatabasePath string // empty disables override persistence

	CameraURL        string
	DeviceURLs       map[int]string
	DevicePathPrefix string // "/control" for the direct-control firmware

	GridRows             int
	GridCols             int
	MinActivityThreshold int
	PixelThreshold       int
	BlurKernel           int

	SourceFPS          int
	FPSLimit           int
	ProcessingInterval int // Co którą klatkę przetwarzać (1=każdą, 3=co trzecią)

	MaxRetries         int
	CameraRetryDelay   time.Duration
	RecoveryPause      time.Duration
	DispatchTimeout    time.Duration
	DispatchRetryDelay time.Duration
	ShutdownTimeout    time.Duration
	ShutdownPause      time.Duration
	UDPReadTimeout     time.Duration

	PresenceDetection   bool
	ShowPreview         bool
	RetryFailedDispatch bool

	CalibrationDelay   time.Duration
	CalibrationTimeout time.Duration

	deviceErr error // DEVICE_URLS parse failure, reported by Validate
}

// Load reads configuration from the environment, after merging an optional
// .env file from the working directory.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnvAsInt("PORT", 5000),
		Password:     getEnv("PASSWORD", "gridwatch"),
		LogDirectory: getEnv("LOG_DIR", filepath.Join(".", "logs")),
		DatabasePath: os.Getenv("DB_PATH"),

		CameraURL:        getEnv("CAMERA_URL", "http://192.168.137.179:4747/video"),
		DevicePathPrefix: getEnv("DEVICE_PATH_PREFIX", ""),

		GridRows:             getEnvAsInt("GRID_ROWS", 2),
		GridCols:             getEnvAsInt("GRID_COLS", 2),
		MinActivityThreshold: getEnvAsInt("MIN_ACTIVITY_THRESHOLD", 1000),
		PixelThreshold:       getEnvAsInt("PIXEL_THRESHOLD", 25),
		BlurKernel:           getEnvAsInt("BLUR_KERNEL", 21),

		SourceFPS:          getEnvAsInt("SOURCE_FPS", 30),
		FPSLimit:           getEnvAsInt("FPS_LIMIT", 10),
		ProcessingInterval: getEnvAsInt("PROCESSING_INTERVAL", 0),

		MaxRetries:         getEnvAsInt("MAX_RETRIES", 3),
		CameraRetryDelay:   getEnvAsDuration("CAMERA_RETRY_DELAY", 2*time.Second),
		RecoveryPause:      getEnvAsDuration("RECOVERY_PAUSE", 2*time.Second),
		DispatchTimeout:    getEnvAsDuration("DISPATCH_TIMEOUT", 500*time.Millisecond),
		DispatchRetryDelay: getEnvAsDuration("DISPATCH_RETRY_DELAY", time.Second),
		ShutdownTimeout:    getEnvAsDuration("SHUTDOWN_TIMEOUT", 2*time.Second),
		ShutdownPause:      getEnvAsDuration("SHUTDOWN_PAUSE", 100*time.Millisecond),
		UDPReadTimeout:     getEnvAsDuration("UDP_READ_TIMEOUT", 5*time.Second),

		PresenceDetection:   getEnvAsBool("PRESENCE_DETECTION", true),
		ShowPreview:         getEnvAsBool("SHOW_PREVIEW", false),
		RetryFailedDispatch: getEnvAsBool("RETRY_FAILED_DISPATCH", false),

		CalibrationDelay:   getEnvAsDuration("CALIBRATION_DELAY", 3*time.Second),
		CalibrationTimeout: getEnvAsDuration("CALIBRATION_TIMEOUT", 7*time.Second),
	}

	if _, set := os.LookupEnv("DB_PATH"); !set {
		cfg.DatabasePath = filepath.Join(".", "data", "gridwatch.db")
	}

	devices, err := ParseDeviceURLs(getEnv("DEVICE_URLS", defaultDeviceURLs))
	if err != nil {
		cfg.deviceErr = err
		devices = map[int]string{}
	}
	cfg.DeviceURLs = devices

	return cfg
}

// Cells returns the number of grid cells, which is also the device count.
func (c *Config) Cells() int {
	return c.GridRows * c.GridCols
}

// FrameInterval returns how many source frames pass per processed frame.
func (c *Config) FrameInterval() int {
	if c.ProcessingInterval > 0 {
		return c.ProcessingInterval
	}
	if c.FPSLimit <= 0 || c.SourceFPS <= c.FPSLimit {
		return 1
	}
	return c.SourceFPS / c.FPSLimit
}

// FramePause is the pause after each processed frame.
func (c *Config) FramePause() time.Duration {
	if c.FPSLimit <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.FPSLimit)
}

// DeviceIDs returns the configured device ids in ascending order.
func (c *Config) DeviceIDs() []int {
	ids := make([]int, 0, len(c.DeviceURLs))
	for id := range c.DeviceURLs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Validate checks the camera source, every device address and that the
// device ids cover exactly 1..rows*cols.
func (c *Config) Validate() error {
	if c.GridRows < 1 || c.GridCols < 1 {
		return fmt.Errorf("%w: GRID_ROWS and GRID_COLS must be positive, got %dx%d", ErrInvalidConfig, c.GridRows, c.GridCols)
	}
	if c.BlurKernel < 1 || c.BlurKernel%2 == 0 {
		return fmt.Errorf("%w: BLUR_KERNEL must be a positive odd number, got %d", ErrInvalidConfig, c.BlurKernel)
	}
	if err := validateCameraURL(c.CameraURL); err != nil {
		return err
	}
	if c.deviceErr != nil {
		return c.deviceErr
	}

	if len(c.DeviceURLs) != c.Cells() {
		return fmt.Errorf("%w: %d devices configured for a %dx%d grid", ErrInvalidConfig, len(c.DeviceURLs), c.GridRows, c.GridCols)
	}
	for _, id := range c.DeviceIDs() {
		if id < 1 || id > c.Cells() {
			return fmt.Errorf("%w: device id %d outside 1..%d", ErrInvalidConfig, id, c.Cells())
		}
		if err := validateHTTPURL(c.DeviceURLs[id]); err != nil {
			return fmt.Errorf("device %d: %w", id, err)
		}
	}
	return nil
}

// ParseDeviceURLs parses "1=http://a,2=http://b" into an id -> address map.
func ParseDeviceURLs(value string) (map[int]string, error) {
	devices := make(map[int]string)
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idPart, address, found := strings.Cut(entry, "=")
		if !found {
			return nil, fmt.Errorf("%w: DEVICE_URLS entry %q is not id=url", ErrInvalidConfig, entry)
		}
		id, err := strconv.Atoi(strings.TrimSpace(idPart))
		if err != nil {
			return nil, fmt.Errorf("%w: DEVICE_URLS id %q is not a number", ErrInvalidConfig, idPart)
		}
		if _, dup := devices[id]; dup {
			return nil, fmt.Errorf("%w: DEVICE_URLS repeats id %d", ErrInvalidConfig, id)
		}
		devices[id] = strings.TrimRight(strings.TrimSpace(address), "/")
	}
	return devices, nil
}

// validateCameraURL accepts a numeric capture device index, a udp://host:port
// listener or any URL with a scheme and host.
func validateCameraURL(raw string) error {
	if _, err := strconv.Atoi(raw); err == nil {
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%w: invalid camera URL format: %q", ErrInvalidConfig, raw)
	}
	return nil
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w: invalid device URL format: %q", ErrInvalidConfig, raw)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("500ms") or plain seconds ("2").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
