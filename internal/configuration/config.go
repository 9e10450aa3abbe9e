package configuration

import (
	"encoding/json"
	"os"
)

type MongoConfig struct {
	Uri                      string `json:"uri"`
	Database                 string `json:"database"`
	MessagesCollection       string `json:"messagesCollection"`
	ConversationsCollection  string `json:"conversationsCollection"`
	DeliveryStatusCollection string `json:"deliveryStatusCollection"`
}

type AuthConfig struct {
	VerifyEndpoint string `json:"verify_endpoint"`
}

type ServerConfig struct {
	AppPort        int      `json:"app_port"`
	SocketPort     int      `json:"socket_port"`
	SocketRoute    string   `json:"socket_route"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type Config struct {
	ChatDatabase MongoConfig  `json:"mongo"`
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

	if config.Server.SocketRoute == "" {
		config.Server.SocketRoute = "ws"
	}
	if len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = []string{"*"}
	}

	return &config, nil
}
