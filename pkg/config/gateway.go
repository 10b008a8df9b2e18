package config

import "time"

// GatewayConfig holds runtime configuration for the streaming gateway.
type GatewayConfig struct {
	Environment         string
	Addr                string
	BackendURL          string
	DatabaseURL         string
	MigrationsDir       string
	IdentityMode        string
	IdentityURL         string
	JWTSecret           string
	DeployEventsChannel string
	UpstreamTimeout     time.Duration
	StreamChunkBytes    int
	StreamBufferChunks  int
	RateLimitRedisAddr  string
	RateLimitRedisPass  string
	RateLimitRedisDB    int
}

// LoadGatewayConfig constructs a GatewayConfig from environment variables.
func LoadGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Environment:         GetString("APP_ENV", "development"),
		Addr:                GetString("GATEWAY_ADDR", ":8000"),
		BackendURL:          GetString("BACKEND_URL", "http://127.0.0.1:8080/mcp"),
		DatabaseURL:         GetString("DATABASE_URL", "postgres://gangway:gangway@db:5432/gangway?sslmode=disable"),
		MigrationsDir:       GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		IdentityMode:        GetString("IDENTITY_MODE", "local"),
		IdentityURL:         GetString("IDENTITY_URL", ""),
		JWTSecret:           GetString("JWT_SECRET", "supersecuresecret"),
		DeployEventsChannel: GetString("PG_DEPLOY_EVENTS_CHANNEL", "deploy_events"),
		UpstreamTimeout:     GetDuration("UPSTREAM_TIMEOUT", 0),
		StreamChunkBytes:    GetInt("STREAM_CHUNK_BYTES", 32*1024),
		StreamBufferChunks:  GetInt("STREAM_BUFFER_CHUNKS", 8),
		RateLimitRedisAddr:  GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:  GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:    GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
