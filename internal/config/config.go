package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedYAML []byte

type Config struct {
	Database  DatabaseConfig
	Embedding EmbeddingConfig
	Matching  MatchingConfig
	Capture   CaptureConfig
	Reprocess ReprocessConfig
	Mail      MailConfig
	SIS       SISConfig
	Web       WebConfig
	SeedFile  string
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type EmbeddingConfig struct {
	URL string // defaults to http://localhost:8000
	Dim int    // defaults to 512
}

type MatchingConfig struct {
	Threshold          float64 // confidence must be strictly greater
	MinFaceHeightRatio float64 // enrollment photos only
	IndexMinTemplates  int     // HNSW pre-selection from this many templates
	ReloadInterval     time.Duration
}

type CaptureConfig struct {
	CameraURL     string // HTTP snapshot endpoint returning a JPEG
	CameraDir     string // replay directory, used when CameraURL is empty
	Dir           string // root for capture images and student photos
	FrameInterval time.Duration
	RetentionDays int
	RejectRebind  bool // Start on an active session fails instead of rebinding
}

type ReprocessConfig struct {
	Interval  time.Duration
	BatchSize int
}

type MailConfig struct {
	Server        string
	Port          int
	Username      string
	Password      string
	DefaultSender string
	UseSSL        bool
}

// Enabled reports whether an SMTP server is configured.
func (c MailConfig) Enabled() bool {
	return c.Server != ""
}

type SISConfig struct {
	DatabaseURL string // MariaDB DSN of the student information system
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// Addr returns host:port for the HTTP listener.
func (c WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a float in the open interval (0, 1).
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f < 1 {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func Load() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Embedding: EmbeddingConfig{
			URL: envString("EMBEDDING_URL", "http://localhost:8000"),
			Dim: envInt("EMBEDDING_DIM", 512),
		},
		Matching: MatchingConfig{
			Threshold:          envFloat("MATCH_THRESHOLD", 0.6),
			MinFaceHeightRatio: envFloat("MIN_FACE_HEIGHT_RATIO", 0.2),
			IndexMinTemplates:  envInt("MATCH_INDEX_MIN_TEMPLATES", 50000),
			ReloadInterval:     envDuration("TEMPLATE_RELOAD_INTERVAL", 5*time.Minute),
		},
		Capture: CaptureConfig{
			CameraURL:     os.Getenv("CAMERA_URL"),
			CameraDir:     os.Getenv("CAMERA_DIR"),
			Dir:           envString("CAPTURE_DIR", "./data"),
			FrameInterval: envDuration("CAPTURE_FRAME_INTERVAL", 200*time.Millisecond),
			RetentionDays: envInt("CAPTURE_RETENTION_DAYS", 30),
			RejectRebind:  envBool("CAPTURE_REJECT_REBIND", false),
		},
		Reprocess: ReprocessConfig{
			Interval:  envDuration("REPROCESS_INTERVAL", time.Minute),
			BatchSize: envInt("REPROCESS_BATCH_SIZE", 100),
		},
		Mail: MailConfig{
			Server:        os.Getenv("MAIL_SERVER"),
			Port:          envInt("MAIL_PORT", 587),
			Username:      os.Getenv("MAIL_USERNAME"),
			Password:      os.Getenv("MAIL_PASSWORD"),
			DefaultSender: envString("MAIL_DEFAULT_SENDER", os.Getenv("MAIL_USERNAME")),
			UseSSL:        envBool("MAIL_USE_SSL", false),
		},
		SIS: SISConfig{
			DatabaseURL: os.Getenv("SIS_DATABASE_URL"),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8085),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		SeedFile: os.Getenv("SEED_FILE"),
	}
}

// Seed describes the courses created on first start.
type Seed struct {
	Courses []SeedCourse `yaml:"courses"`
}

type SeedCourse struct {
	Identifier string `yaml:"identifier"`
	Name       string `yaml:"name"`
}

// LoadSeed returns the seed from path, or the embedded default when path is empty.
func LoadSeed(path string) (*Seed, error) {
	data := seedYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read seed file: %w", err)
		}
		data = b
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	for i, c := range seed.Courses {
		if c.Identifier == "" || c.Name == "" {
			return nil, fmt.Errorf("seed course %d: identifier and name are required", i)
		}
	}
	return &seed, nil
}
