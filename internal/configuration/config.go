package configuration

import (
	"encoding/json"
	"os"
)

type MongoConfig struct {
	Uri                string `json:"uri"`
	Database           string `json:"database"`
	MessagesCollection string `json:"messagesCollection"`
	UsersCollection    string `json:"usersCollection"`
	SocketRoute        string `json:"socketRoute"`
}

type RedisConfig struct {
	Url     string `json:"url"`
	Channel string `json:"channel"`
}

type AuthConfig struct {
	JwtSecret string `json:"jwt_secret"`
}

type ServerConfig struct {
	AppPort        int      `json:"app_port"`
	SocketPort     int      `json:"socket_port"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type Config struct {
	ChatDatabase MongoConfig  `json:"mongo"`
	Redis        RedisConfig  `json:"redis"`
	Auth         AuthConfig   `json:"auth"`
	Server       ServerConfig `json:"server"`
}

func LoadConfig(config_path string) (*Config, error) {
	file, err := os.ReadFile(config_path)
	if err != nil {
		return nil, err
	}

	var config Config
	err = json.Unmarshal(file, &config)
	if err != nil {
		return nil, err
	}

	config.applyEnv()
	return &config, nil
}

// applyEnv lets deployment secrets override the checked-in file.
func (c *Config) applyEnv() {
	if v := os.Getenv("MONGO_URI"); v != "" {
		c.ChatDatabase.Uri = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.Url = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JwtSecret = v
	}
}
