package db

import (
	"time"

	"github.com/smallbiznis/upimatch/internal/config"
)

type Config struct {
	Type            string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	SSLMode         string
	Path            string
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// FromJournal maps the journal settings onto a connection config.
func FromJournal(cfg config.Config) Config {
	j := cfg.Journal
	return Config{
		Type:            j.DBType,
		Host:            j.DBHost,
		Port:            j.DBPort,
		Name:            j.DBName,
		User:            j.DBUser,
		Password:        j.DBPassword,
		SSLMode:         j.DBSSLMode,
		Path:            j.DBPath,
		MaxIdleConn:     j.DBMaxIdleConn,
		MaxOpenConn:     j.DBMaxOpenConn,
		ConnMaxLifetime: time.Duration(j.DBConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(j.DBConnMaxIdleTime) * time.Second,
	}
}
