package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ilyakaznacheev/cleanenv"
)

var EtcDir = "."

const ConfigFileName = "polydrill.yaml"

type DrillConfig struct {
	RasterPath  string   `yaml:"raster" env:"POLYDRILL_RASTER"`
	VectorPath  string   `yaml:"vector" env:"POLYDRILL_VECTOR"`
	Layer       string   `yaml:"layer" env:"POLYDRILL_LAYER"`
	IncludeCols []string `yaml:"include_cols" env:"POLYDRILL_INCLUDE_COLS" env-separator:","`
	OutPath     string   `yaml:"out" env:"POLYDRILL_OUT"`
	FillValue   float64  `yaml:"fill_value" env:"POLYDRILL_FILL_VALUE" env-default:"9999"`
	Delimiter   string   `yaml:"delimiter" env:"POLYDRILL_DELIMITER" env-default:","`
	Workers     int      `yaml:"workers" env:"POLYDRILL_WORKERS" env-default:"1"`
	Progress    bool     `yaml:"progress" env:"POLYDRILL_PROGRESS" env-default:"false"`
	BandExprs   []string `yaml:"band_exprs" env:"POLYDRILL_BAND_EXPRS" env-separator:";"`

	// StackRasters are appended band-wise after RasterPath. They must
	// share its grid.
	StackRasters []string `yaml:"stack_rasters" env:"POLYDRILL_STACK_RASTERS" env-separator:","`
	// RasterCRS is assigned to the raster, for files without one.
	RasterCRS string `yaml:"raster_crs" env:"POLYDRILL_RASTER_CRS"`
}

type LogConfig struct {
	Level   string `yaml:"level" env:"POLYDRILL_LOG_LEVEL" env-default:"info"`
	Console bool   `yaml:"console" env:"POLYDRILL_LOG_CONSOLE" env-default:"false"`
}

type MetricsConfig struct {
	TextfilePath string `yaml:"textfile" env:"POLYDRILL_METRICS_TEXTFILE"`
	LogDir       string `yaml:"log_dir" env:"POLYDRILL_METRICS_LOG_DIR"`
}

// PostgresConfig loads the table into PostgreSQL when DSN is set.
type PostgresConfig struct {
	DSN    string `yaml:"dsn" env:"POLYDRILL_PG_DSN"`
	Table  string `yaml:"table" env:"POLYDRILL_PG_TABLE"`
	Create bool   `yaml:"create" env:"POLYDRILL_PG_CREATE" env-default:"false"`
	Pool   int    `yaml:"pool" env:"POLYDRILL_PG_POOL" env-default:"2"`
}

type GDALConfig struct {
	CacheMax   string `yaml:"cache_max" env:"POLYDRILL_GDAL_CACHEMAX"`
	NumThreads string `yaml:"num_threads" env:"POLYDRILL_GDAL_NUM_THREADS"`
}

type Config struct {
	Drill    DrillConfig    `yaml:"drill"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Postgres PostgresConfig `yaml:"postgres"`
	GDAL     GDALConfig     `yaml:"gdal"`
}

// DefaultConfigPath returns EtcDir/polydrill.yaml if it exists.
func DefaultConfigPath() string {
	path := filepath.Join(EtcDir, ConfigFileName)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// LoadConfig reads the YAML file at path, when given, with POLYDRILL_*
// environment variables taking precedence over it. Without a path only
// the environment and defaults are used.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if len(path) == 0 {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
		return cfg, nil
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the settings an extraction run needs.
func (c *Config) Validate() error {
	if len(c.Drill.RasterPath) == 0 {
		return fmt.Errorf("raster path is required")
	}
	if len(c.Drill.VectorPath) == 0 {
		return fmt.Errorf("vector path is required")
	}
	if c.Drill.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Drill.Workers)
	}
	if len(c.Postgres.DSN) > 0 && len(c.Postgres.Table) == 0 {
		return fmt.Errorf("postgres table is required with a postgres dsn")
	}
	if _, err := c.Drill.DelimiterRune(); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level '%s'", c.Log.Level)
	}
	return nil
}

// DelimiterRune returns the output field separator. "\t" and "tab" are
// accepted for tab separated output.
func (d *DrillConfig) DelimiterRune() (rune, error) {
	delim := d.Delimiter
	switch strings.ToLower(delim) {
	case "":
		return ',', nil
	case `\t`, "tab":
		return '\t', nil
	}
	if utf8.RuneCountInString(delim) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got '%s'", delim)
	}
	r, _ := utf8.DecodeRuneInString(delim)
	if r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, fmt.Errorf("invalid delimiter %q", delim)
	}
	return r, nil
}
