package config

import "fmt"

type DBConfig struct {
	Host            string `envconfig:"DB_HOST" default:"postgres"`
	Port            int    `envconfig:"DB_PORT" default:"5432"`
	User            string `envconfig:"DB_USER" default:"khetisahayak"`
	Password        string `envconfig:"DB_PASSWORD" default:"khetisahayak"`
	Name            string `envconfig:"DB_NAME" default:"consultations"`
	SSLMode         string `envconfig:"DB_SSLMODE" default:"disable"`
	TimeZone        string `envconfig:"DB_TIMEZONE" default:"UTC"`
	MaxOpenConns    int    `envconfig:"DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int    `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifeTime int    `envconfig:"DB_CONN_MAX_LIFETIME_MIN" default:"30"` // минут
	// Прогонять goose-миграции при старте.
	Migrate bool `envconfig:"DB_MIGRATE" default:"true"`
}

// DSN в формате key=value для драйвера postgres.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode, c.TimeZone,
	)
}

func (c DBConfig) validate() error {
	// минимальная валидация
	if c.Host == "" || c.User == "" || c.Name == "" {
		return fmt.Errorf("invalid DB config: host/user/name must not be empty")
	}
	return nil
}
