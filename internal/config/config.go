package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

// LivenessTTL is how long a socket's liveness key survives without a heartbeat.
const LivenessTTL = 30 * time.Second

type Config struct {
	ServerAddr        string
	DatabaseDSN       string
	RedisURL          string
	KeyPrefix         string
	SigningKey        []byte
	AllowedOrigins    []string
	ScanInterval      time.Duration
	ServiceIdentities []string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("empty key")
	}
	return key, nil
}

func NewConfig(serverAddr, databaseDSN, redisURL, keyPrefix, base64Secret string, allowedOrigins []string, scanInterval time.Duration, serviceIds []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL cannot be empty")
	}
	if keyPrefix == "" {
		return nil, fmt.Errorf("key prefix cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	// the scan only catches expired keys if it runs more often than they expire
	if scanInterval <= 0 || scanInterval >= LivenessTTL {
		return nil, fmt.Errorf("scan interval must be between 0 and %s, got %s", LivenessTTL, scanInterval)
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:        serverAddr,
		DatabaseDSN:       databaseDSN,
		RedisURL:          redisURL,
		KeyPrefix:         keyPrefix,
		SigningKey:        signingKey,
		AllowedOrigins:    allowedOrigins,
		ScanInterval:      scanInterval,
		ServiceIdentities: serviceIds,
	}, nil
}
