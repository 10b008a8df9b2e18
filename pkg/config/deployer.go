package config

import "time"

// DeployerConfig holds runtime configuration for the deployment CLI.
type DeployerConfig struct {
	Environment     string
	DatabaseURL     string
	MigrationsDir   string
	BuildServiceURL string
	RegistryURL     string
	RuntimeURL      string
	IdentityURL     string
	IdentityMode    string
	JWTSecret       string
	BuildBackend    string
	DockerHost      string
	BuildPollEvery  time.Duration
	DeployPollEvery time.Duration
	DeployTimeout   time.Duration
	HealthPath      string
	RuntimeDomain   string
	TokenValidity   time.Duration
}

// LoadDeployerConfig constructs a DeployerConfig from environment variables.
func LoadDeployerConfig() DeployerConfig {
	return DeployerConfig{
		Environment:     GetString("APP_ENV", "development"),
		DatabaseURL:     GetString("DATABASE_URL", "postgres://gangway:gangway@db:5432/gangway?sslmode=disable"),
		MigrationsDir:   GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		BuildServiceURL: GetString("BUILD_SERVICE_URL", "http://127.0.0.1:7100"),
		RegistryURL:     GetString("REGISTRY_URL", "http://127.0.0.1:7200"),
		RuntimeURL:      GetString("RUNTIME_URL", "http://127.0.0.1:7300"),
		IdentityURL:     GetString("IDENTITY_URL", "http://127.0.0.1:7400"),
		IdentityMode:    GetString("IDENTITY_MODE", "local"),
		JWTSecret:       GetString("JWT_SECRET", "supersecuresecret"),
		BuildBackend:    GetString("BUILD_BACKEND", "remote"),
		DockerHost:      GetString("DOCKER_HOST", ""),
		BuildPollEvery:  GetDuration("BUILD_POLL_INTERVAL", 5*time.Second),
		DeployPollEvery: GetDuration("DEPLOY_POLL_INTERVAL", 5*time.Second),
		DeployTimeout:   GetDuration("DEPLOY_TIMEOUT", 5*time.Minute),
		HealthPath:      GetString("RUNTIME_HEALTH_PATH", "/ping"),
		RuntimeDomain:   GetString("RUNTIME_DOMAIN", ""),
		TokenValidity:   GetDuration("TOKEN_VALIDITY", time.Hour),
	}
}
