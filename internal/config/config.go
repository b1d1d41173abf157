package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"Server"`
	Database DatabaseConfig `mapstructure:"Database"`
	Storage  StorageConfig  `mapstructure:"Storage"`
	Auth     AuthConfig     `mapstructure:"Auth"`
}

type ServerConfig struct {
	Port    string `mapstructure:"Port"`
	BaseURL string `mapstructure:"BaseURL"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"Host"`
	Port     string `mapstructure:"Port"`
	User     string `mapstructure:"User"`
	Password string `mapstructure:"Password"`
	Name     string `mapstructure:"Name"`
	SSLMode  string `mapstructure:"SSLMode"`
}

type StorageConfig struct {
	// Корень хранилища, внутри создаются temp/ и storage/
	UploadDir string `mapstructure:"UploadDir"`
	// Потолок размера загрузки в байтах
	MaxUploadSize int64 `mapstructure:"MaxUploadSize"`
}

type AuthConfig struct {
	SecretKey          string `mapstructure:"SecretKey"`
	AccessTokenMinutes int    `mapstructure:"AccessTokenMinutes"`
	RefreshTokenDays   int    `mapstructure:"RefreshTokenDays"`
}

func NewConfig(path string) (*Config, error) {
	v := viper.New()

	// Устанавливаем файл конфигурации
	v.SetConfigFile(path)

	// Привязываем переменные окружения
	v.BindEnv("Database.Host", "DATABASE_HOST")
	v.BindEnv("Database.Port", "DATABASE_PORT")
	v.BindEnv("Database.User", "DATABASE_USER")
	v.BindEnv("Database.Password", "DATABASE_PASSWORD")
	v.BindEnv("Database.Name", "DATABASE_NAME")
	v.BindEnv("Database.SSLMode", "DATABASE_SSLMODE")
	v.BindEnv("Server.Port", "HTTP_PORT")
	v.BindEnv("Server.BaseURL", "BASE_URL")
	v.BindEnv("Storage.UploadDir", "UPLOAD_DIR")
	v.BindEnv("Storage.MaxUploadSize", "MAX_UPLOAD_SIZE")
	v.BindEnv("Auth.SecretKey", "SECRET_KEY")
	v.BindEnv("Auth.AccessTokenMinutes", "ACCESS_TOKEN_MINUTES")
	v.BindEnv("Auth.RefreshTokenDays", "REFRESH_TOKEN_DAYS")

	// Читаем конфигурацию из файла
	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Warning: using only environment variables: %v\n", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Проверяем переменные окружения напрямую если конфигурация неполная
	if cfg.Database.Host == "" {
		cfg.Database.Host = v.GetString("DATABASE_HOST")
	}
	if cfg.Database.Port == "" {
		cfg.Database.Port = v.GetString("DATABASE_PORT")
	}
	if cfg.Database.User == "" {
		cfg.Database.User = v.GetString("DATABASE_USER")
	}
	if cfg.Database.Password == "" {
		cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = v.GetString("DATABASE_NAME")
	}
	if cfg.Auth.SecretKey == "" {
		cfg.Auth.SecretKey = v.GetString("SECRET_KEY")
	}

	// Проверяем, что все необходимые поля заполнены
	if cfg.Database.Host == "" ||
		cfg.Database.Port == "" ||
		cfg.Database.User == "" ||
		cfg.Database.Password == "" ||
		cfg.Database.Name == "" {
		return nil, fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Name)
	}

	if cfg.Auth.SecretKey == "" {
		return nil, fmt.Errorf("auth configuration is incomplete: SecretKey is required")
	}

	// Установка значений по умолчанию
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8000"
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = "./data/uploads"
	}
	if cfg.Storage.MaxUploadSize <= 0 {
		cfg.Storage.MaxUploadSize = 5 * 1024 * 1024 // 5MB
	}
	if cfg.Auth.AccessTokenMinutes <= 0 {
		cfg.Auth.AccessTokenMinutes = 30
	}
	if cfg.Auth.RefreshTokenDays <= 0 {
		cfg.Auth.RefreshTokenDays = 7
	}

	return &cfg, nil
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}
