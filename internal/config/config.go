package config

import (
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/juju/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/isdelr/winepair-be/internal/models"
)

// Config holds the application configuration.
type Config struct {
	ServerPort   int    `env:"PORT" envDefault:"8080"`
	MongoURI     string `env:"MONGODB_URI" envDefault:"mongodb://localhost:27017"`
	DatabaseName string `env:"DATABASE_NAME" envDefault:"winepair"`

	JWTSecret      string   `env:"JWT_SECRET"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	Backup BackupConfig
}

// BackupConfig holds the settings of the periodic backup job.
type BackupConfig struct {
	Dir                string        `env:"BACKUP_DIR" envDefault:"./backups"`
	Interval           time.Duration `env:"BACKUP_INTERVAL" envDefault:"6h"`
	Cron               string        `env:"BACKUP_CRON"` // Overrides Interval when set
	Collections        []string      `env:"BACKUP_COLLECTIONS" envSeparator:"," envDefault:"wines,grapes,dishes,users,posts,pairings"`
	KeepLast           int           `env:"BACKUP_KEEP_LAST" envDefault:"10"`
	MaxAge             time.Duration `env:"BACKUP_MAX_AGE" envDefault:"720h"`
	MinKeep            int           `env:"BACKUP_MIN_KEEP" envDefault:"1"`
	ClearBeforeRestore bool          `env:"BACKUP_CLEAR_BEFORE_RESTORE" envDefault:"true"`
	RunOnStart         bool          `env:"BACKUP_RUN_ON_START" envDefault:"false"`
	StopGrace          time.Duration `env:"BACKUP_STOP_GRACE" envDefault:"30s"`

	DiskWarnPercent   float64       `env:"BACKUP_DISK_WARN_PERCENT" envDefault:"90"` // 0 disables disk alerts
	DiskCheckInterval time.Duration `env:"BACKUP_DISK_CHECK_INTERVAL" envDefault:"5m"`
}

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// Load loads configuration from a .env file (if present) and environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Annotate(err, "failed to parse environment")
	}

	for i, name := range cfg.Backup.Collections {
		cfg.Backup.Collections[i] = strings.TrimSpace(name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return errors.NotValidf("port %d", c.ServerPort)
	}
	return c.Backup.Validate()
}

// Validate checks the backup settings.
func (b *BackupConfig) Validate() error {
	if b.Dir == "" {
		return errors.NotValidf("empty backup directory")
	}
	if len(b.Collections) == 0 {
		return errors.NotValidf("empty backup collection list")
	}
	seen := make(map[string]bool, len(b.Collections))
	for _, name := range b.Collections {
		if !ValidCollectionName(name) {
			return errors.NotValidf("collection name %q", name)
		}
		if seen[name] {
			return errors.NotValidf("duplicate collection %q", name)
		}
		seen[name] = true
	}
	if b.Cron == "" && b.Interval < time.Second {
		return errors.NotValidf("backup interval %s (minimum is 1s)", b.Interval)
	}
	if b.Cron != "" {
		if _, err := cron.ParseStandard(b.Cron); err != nil {
			return errors.NewNotValid(err, "invalid backup cron expression")
		}
	}
	if b.KeepLast < 0 || b.MinKeep < 0 || b.MaxAge < 0 {
		return errors.NotValidf("negative retention setting")
	}
	if b.StopGrace < 0 {
		return errors.NotValidf("negative stop grace period")
	}
	if b.DiskWarnPercent < 0 || b.DiskWarnPercent > 100 {
		return errors.NotValidf("disk warning threshold %v%%", b.DiskWarnPercent)
	}
	if b.DiskCheckInterval < time.Second {
		return errors.NotValidf("disk check interval %s (minimum is 1s)", b.DiskCheckInterval)
	}
	return nil
}

// Schedule returns the schedule the backup cycle runs on.
func (b *BackupConfig) Schedule() (cron.Schedule, error) {
	if b.Cron != "" {
		schedule, err := cron.ParseStandard(b.Cron)
		if err != nil {
			return nil, errors.NewNotValid(err, "invalid backup cron expression")
		}
		return schedule, nil
	}
	return cron.Every(b.Interval), nil
}

// Retention returns the retention policy described by the configuration.
func (b *BackupConfig) Retention() models.RetentionPolicy {
	return models.RetentionPolicy{
		KeepLast: b.KeepLast,
		MaxAge:   b.MaxAge,
		MinKeep:  b.MinKeep,
	}
}

// ValidCollectionName reports whether name can be used as a collection and backup directory name.
func ValidCollectionName(name string) bool {
	return collectionNamePattern.MatchString(name) && !strings.Contains(name, "..") && !strings.HasPrefix(name, "system.")
}
