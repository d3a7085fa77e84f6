package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var (
	db *gorm.DB
)

func GetDB() *gorm.DB {
	return db
}

// DatabaseConfig is read from DB_* env vars.
// DB_DRIVER=sqlite opens DB_NAME as a local file, which is handy for the cli and demos.
type DatabaseConfig struct {
	Driver          string
	User            string
	Password        string
	Host            string
	Port            string
	Name            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func LoadDatabaseConfig() DatabaseConfig {
	driver := strings.ToLower(strings.TrimSpace(os.Getenv("DB_DRIVER")))
	if driver == "" {
		driver = "mysql"
	}
	return DatabaseConfig{
		Driver:          driver,
		User:            os.Getenv("DB_USER"),
		Password:        os.Getenv("DB_PASSWORD"),
		Host:            os.Getenv("DB_HOST"),
		Port:            os.Getenv("DB_PORT"),
		Name:            os.Getenv("DB_NAME"),
		MaxOpenConns:    EnvInt("DB_MAX_OPEN_CONNS", 50),
		MaxIdleConns:    EnvInt("DB_MAX_IDLE_CONNS", 25),
		ConnMaxLifetime: time.Duration(EnvInt("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second,
		ConnMaxIdleTime: time.Duration(EnvInt("DB_CONN_MAX_IDLE_TIME_SECONDS", 60)) * time.Second,
	}
}

// Dialector picks the gorm driver. Hosts under /cloudsql/ are unix sockets of the Cloud SQL proxy.
func (c DatabaseConfig) Dialector() (gorm.Dialector, error) {
	switch c.Driver {
	case "sqlite":
		if c.Name == "" {
			return nil, fmt.Errorf("DB_NAME must name the sqlite file")
		}
		return sqlite.Open(c.Name), nil
	case "mysql":
		network, address := "tcp", fmt.Sprintf("%s:%s", c.Host, c.Port)
		if strings.HasPrefix(c.Host, "/cloudsql/") {
			network, address = "unix", c.Host
		}
		dsn := fmt.Sprintf("%s:%s@%s(%s)/%s?multiStatements=true&parseTime=true&loc=UTC",
			c.User, c.Password, network, address, c.Name)
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", c.Driver)
	}
}

// OpenDatabase opens one connection pool and installs the otel plugin.
func OpenDatabase(cfg DatabaseConfig) (*gorm.DB, error) {
	dialector, err := cfg.Dialector()
	if err != nil {
		return nil, err
	}
	conn, err := gorm.Open(dialector, InitConfig())
	if err != nil {
		return nil, err
	}
	if sqlDB, err := conn.DB(); err == nil {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns >= 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
		if cfg.ConnMaxIdleTime > 0 {
			sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
		}
	}
	if err := conn.Use(otelgorm.NewPlugin()); err != nil {
		GetLogger().WithFields(logrus.Fields{"field": "database"}).Warn("otelgorm plugin not installed: " + err.Error())
	}
	return conn, nil
}

// ConnectDatabaseWithRetry keeps trying until the database answers or ctx ends, then sets the global DB.
func ConnectDatabaseWithRetry(ctx context.Context) error {
	cfg := LoadDatabaseConfig()
	log := GetLogger().WithFields(logrus.Fields{"field": "database", "driver": cfg.Driver})
	for attempt := 1; ; attempt++ {
		conn, err := OpenDatabase(cfg)
		if err == nil {
			db = conn
			log.WithField("attempt", attempt).Info("connected to database")
			return nil
		}
		sleep := retryBackoff(attempt)
		log.WithField("attempt", attempt).Warnf("failed to connect database: %v; retrying in %s", err, sleep)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// retryBackoff doubles from 2s up to 30s.
func retryBackoff(attempt int) time.Duration {
	return min(time.Second*time.Duration(1<<min(attempt, 5)), 30*time.Second)
}

// InitConfig is shared by every gorm.Open in the repo so dialect errors
// (duplicate keys in particular) are translated the same way everywhere.
func InitConfig() *gorm.Config {
	level := logger.Error
	if strings.EqualFold(os.Getenv("GORM_LOG_LEVEL"), "info") {
		level = logger.Info
	}
	return &gorm.Config{
		Logger: logger.New(GetLogger(), logger.Config{
			LogLevel:                  level,
			SlowThreshold:             time.Second,
			IgnoreRecordNotFoundError: true,
		}),
		NamingStrategy: schema.NamingStrategy{},
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}
