package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	KioskID      string             `yaml:"kiosk_id"`
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	NATS         NATSConfig         `yaml:"nats"`
	MinIO        MinIOConfig        `yaml:"minio"`
	Vision       VisionConfig       `yaml:"vision"`
	Recognition  RecognitionConfig  `yaml:"recognition"`
	AntiSpoofing AntiSpoofingConfig `yaml:"anti_spoofing"`
	Attendance   AttendanceConfig   `yaml:"attendance"`
	RFID         RFIDConfig         `yaml:"rfid"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsAddr string `yaml:"metrics_addr"`
	APIKey      string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	CameraURL          string  `yaml:"camera_url"`
	CaptureFPS         int     `yaml:"capture_fps"`
	FrameWidth         int     `yaml:"frame_width"`
	// WorkerCount of 0 means NumCPU-1.
	WorkerCount int `yaml:"worker_count"`
}

type RecognitionConfig struct {
	Tolerance float64 `yaml:"tolerance"`
}

type AntiSpoofingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Threshold      float64 `yaml:"threshold"`
	MaxFrameBuffer int     `yaml:"max_frame_buffer"`
	MotionFrames   int     `yaml:"motion_frames"`
	MotionVeto     bool    `yaml:"motion_veto"`
	FailClosed     bool    `yaml:"fail_closed"`
}

type AttendanceConfig struct {
	MinConfidence   float64       `yaml:"min_confidence"`
	Cooldown        time.Duration `yaml:"cooldown"`
	LateCutoff      string        `yaml:"late_cutoff"`
	LatePenalty     int           `yaml:"late_penalty"`
	SpoofFloor      float64       `yaml:"spoof_floor"`
	SpoofMaxPenalty float64       `yaml:"spoof_max_penalty"`
	RFIDBoost       float64       `yaml:"rfid_boost"`
}

// Cutoff parses LateCutoff ("HH:MM") into an offset from local midnight.
func (a AttendanceConfig) Cutoff() (time.Duration, error) {
	return ParseTimeOfDay(a.LateCutoff)
}

type RFIDConfig struct {
	Enabled    bool          `yaml:"enabled"`
	ListenAddr string        `yaml:"listen_addr"`
	Timeout    time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every default applied and anti-spoofing
// and RFID enabled. Load starts from it so a YAML file only needs overrides.
func Default() *Config {
	cfg := &Config{
		AntiSpoofing: AntiSpoofingConfig{Enabled: true},
		RFID:         RFIDConfig{Enabled: true},
	}
	setDefaults(cfg)
	return cfg
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Defaults are seeded before decoding; explicit zeros in the file survive.
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the recognition core cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if t := c.Recognition.Tolerance; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("recognition.tolerance must be in [0,1], got %v", t))
	}
	if t := c.AntiSpoofing.Threshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("anti_spoofing.threshold must be in [0,1], got %v", t))
	}
	if c.AntiSpoofing.MaxFrameBuffer < c.AntiSpoofing.MotionFrames {
		errs = append(errs, fmt.Errorf("anti_spoofing.max_frame_buffer (%d) smaller than motion_frames (%d)",
			c.AntiSpoofing.MaxFrameBuffer, c.AntiSpoofing.MotionFrames))
	}
	if m := c.Attendance.MinConfidence; m < 0 || m > 100 {
		errs = append(errs, fmt.Errorf("attendance.min_confidence must be in [0,100], got %v", m))
	}
	if c.Attendance.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("attendance.cooldown must not be negative"))
	}
	if c.Attendance.LatePenalty < 0 {
		errs = append(errs, fmt.Errorf("attendance.late_penalty must not be negative"))
	}
	if _, err := c.Attendance.Cutoff(); err != nil {
		errs = append(errs, fmt.Errorf("attendance.late_cutoff: %w", err))
	}
	if c.RFID.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("rfid.timeout must be positive"))
	}
	return errors.Join(errs...)
}

// ParseTimeOfDay parses "HH:MM" (24h) into a duration since midnight.
func ParseTimeOfDay(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func setDefaults(cfg *Config) {
	if cfg.KioskID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.KioskID = host
		} else {
			cfg.KioskID = "kiosk"
		}
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":8082"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "attendance"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.CaptureFPS == 0 {
		cfg.Vision.CaptureFPS = 10
	}
	if cfg.Vision.FrameWidth == 0 {
		cfg.Vision.FrameWidth = 640
	}
	if cfg.Recognition.Tolerance == 0 {
		cfg.Recognition.Tolerance = 0.45
	}
	if cfg.AntiSpoofing.Threshold == 0 {
		cfg.AntiSpoofing.Threshold = 0.7
	}
	if cfg.AntiSpoofing.MaxFrameBuffer == 0 {
		cfg.AntiSpoofing.MaxFrameBuffer = 10
	}
	if cfg.AntiSpoofing.MotionFrames == 0 {
		cfg.AntiSpoofing.MotionFrames = 3
	}
	if cfg.Attendance.MinConfidence == 0 {
		cfg.Attendance.MinConfidence = 85
	}
	if cfg.Attendance.Cooldown == 0 {
		cfg.Attendance.Cooldown = 5 * time.Minute
	}
	if cfg.Attendance.LateCutoff == "" {
		cfg.Attendance.LateCutoff = "09:00"
	}
	if cfg.Attendance.LatePenalty == 0 {
		cfg.Attendance.LatePenalty = 5
	}
	if cfg.Attendance.SpoofFloor == 0 {
		cfg.Attendance.SpoofFloor = 40
	}
	if cfg.Attendance.SpoofMaxPenalty == 0 {
		cfg.Attendance.SpoofMaxPenalty = 50
	}
	if cfg.Attendance.RFIDBoost == 0 {
		cfg.Attendance.RFIDBoost = 10
	}
	if cfg.RFID.ListenAddr == "" {
		cfg.RFID.ListenAddr = ":8090"
	}
	if cfg.RFID.Timeout == 0 {
		cfg.RFID.Timeout = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KIOSK_ID"); v != "" {
		cfg.KioskID = v
	}
	if v := os.Getenv("KIOSK_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KIOSK_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("KIOSK_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("KIOSK_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("KIOSK_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("KIOSK_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("KIOSK_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("KIOSK_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("KIOSK_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("KIOSK_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("KIOSK_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("KIOSK_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("KIOSK_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("KIOSK_CAMERA_URL"); v != "" {
		cfg.Vision.CameraURL = v
	}
	if v := os.Getenv("KIOSK_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.WorkerCount = n
		}
	}
	if v := os.Getenv("KIOSK_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Recognition.Tolerance = f
		}
	}
	if v := os.Getenv("KIOSK_LATE_CUTOFF"); v != "" {
		cfg.Attendance.LateCutoff = v
	}
	if v := os.Getenv("KIOSK_RFID_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RFID.Timeout = d
		}
	}
}
