package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peregrinehq/gangway/internal/app/migrate"
	"github.com/peregrinehq/gangway/internal/domain"
	"github.com/peregrinehq/gangway/internal/localbuild"
	"github.com/peregrinehq/gangway/internal/remote"
	"github.com/peregrinehq/gangway/internal/repository/postgres"
	"github.com/peregrinehq/gangway/internal/service/build"
	"github.com/peregrinehq/gangway/internal/service/health"
	"github.com/peregrinehq/gangway/internal/service/identity"
	"github.com/peregrinehq/gangway/internal/service/orchestrator"
	"github.com/peregrinehq/gangway/internal/service/rollback"
	"github.com/peregrinehq/gangway/pkg/config"
	"github.com/peregrinehq/gangway/pkg/logger"
)

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "deploy":
		err = commandDeploy(args)
	case "status":
		err = commandStatus(args)
	case "history":
		err = commandHistory(args)
	case "rollback":
		err = commandRollback(args)
	case "token":
		err = commandToken(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandDeploy(args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	project := fs.String("project", "", "Project name")
	source := fs.String("source", "", "Source reference to build")
	repo := fs.String("repo", "", "Artifact repository name")
	artifact := fs.String("artifact", "", "Prebuilt artifact reference (skips the build)")
	poolID := fs.String("pool", "", "Existing identity pool to reuse")
	clientID := fs.String("client", "", "Existing identity client to reuse")
	env := fs.String("env", "", "Build environment as comma separated KEY=VALUE pairs")
	quiet := fs.Bool("quiet", false, "Suppress per-phase progress output")
	fs.Parse(args)

	cfg := config.LoadDeployerConfig()
	log := logger.New("deploy", slog.LevelWarn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repoStore, cleanup, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	var builds orchestrator.BuildService
	var registry orchestrator.Registry
	var watcher build.Watcher
	if strings.EqualFold(cfg.BuildBackend, "local") {
		backend, err := localbuild.New(cfg.DockerHost, log)
		if err != nil {
			return fmt.Errorf("local build backend: %w", err)
		}
		builds = backend
		registry = backend
		watcher = backend
	} else {
		buildClient := remote.NewBuildServiceClient(cfg.BuildServiceURL)
		builds = buildClient
		registry = remote.NewRegistryClient(cfg.RegistryURL)
		watcher = buildClient
	}

	provider := newProvider(cfg, repoStore, log)
	runtime := remote.NewRuntimeClient(cfg.RuntimeURL)

	monitor := build.NewMonitor(watcher, cfg.BuildPollEvery, log)
	provisioner := identity.NewProvisioner(provider, log)
	verifier := health.NewVerifier(runtime, cfg.HealthPath, cfg.RuntimeDomain, log)
	rollbacker := rollback.NewManager(runtime, repoStore, log)

	opts := []orchestrator.Option{
		orchestrator.WithPollInterval(cfg.DeployPollEvery),
		orchestrator.WithDeployTimeout(cfg.DeployTimeout),
	}
	if !*quiet {
		opts = append(opts, orchestrator.WithStepCallback(func(ev orchestrator.StepEvent) {
			fmt.Printf("[%s] %s", ev.Phase, ev.Status)
			if ev.Message != "" {
				fmt.Printf(": %s", ev.Message)
			}
			fmt.Println()
		}))
	}

	orch := orchestrator.New(builds, monitor, registry, provisioner, runtime, verifier, rollbacker, repoStore, log, opts...)

	result := orch.Run(ctx, orchestrator.Request{
		ProjectName: *project,
		SourceRef:   *source,
		Repository:  *repo,
		ArtifactRef: *artifact,
		Identity: domain.IdentityConfig{
			PoolID:        *poolID,
			ClientID:      *clientID,
			TokenValidity: cfg.TokenValidity,
		},
		BuildEnv: parseEnv(*env),
	})

	printResult(result)
	if !result.Success {
		os.Exit(1)
	}
	return nil
}

func commandStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	deploymentID := fs.String("deployment", "", "Deployment identifier")
	fs.Parse(args)

	if strings.TrimSpace(*deploymentID) == "" {
		return errors.New("--deployment is required")
	}
	cfg := config.LoadDeployerConfig()
	runtime := remote.NewRuntimeClient(cfg.RuntimeURL)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	dep, err := runtime.GetStatus(ctx, *deploymentID)
	if err != nil {
		return err
	}
	fmt.Printf("deployment: %s\n", dep.ID)
	fmt.Printf("status: %s\n", dep.Status)
	if dep.Endpoint != nil {
		fmt.Printf("endpoint: %s\n", dep.Endpoint.URL)
	}
	if dep.Reason != "" {
		fmt.Printf("reason: %s\n", dep.Reason)
	}
	return nil
}

func commandHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	project := fs.String("project", "", "Project identifier")
	limit := fs.Int("limit", 20, "Maximum entries to show")
	fs.Parse(args)

	if strings.TrimSpace(*project) == "" {
		return errors.New("--project is required")
	}
	cfg := config.LoadDeployerConfig()
	log := logger.New("deploy", slog.LevelWarn)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	repoStore, cleanup, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	entries, err := repoStore.ListHistoryByProject(ctx, *project, *limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no deployments recorded")
		return nil
	}
	for _, entry := range entries {
		line := fmt.Sprintf("%s  %-11s  %s", entry.CreatedAt.Format(time.RFC3339), entry.Status, entry.DeploymentID)
		if entry.ArtifactRef != "" {
			line += "  " + entry.ArtifactRef
		}
		if entry.Message != "" {
			line += "  " + entry.Message
		}
		fmt.Println(line)
	}
	return nil
}

func commandRollback(args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	project := fs.String("project", "", "Project identifier")
	deploymentID := fs.String("deployment", "", "Failed deployment to clean up")
	fs.Parse(args)

	if strings.TrimSpace(*project) == "" {
		return errors.New("--project is required")
	}
	cfg := config.LoadDeployerConfig()
	log := logger.New("deploy", slog.LevelWarn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	repoStore, cleanup, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	runtime := remote.NewRuntimeClient(cfg.RuntimeURL)
	manager := rollback.NewManager(runtime, repoStore, log)

	failed := domain.Deployment{
		ID:        strings.TrimSpace(*deploymentID),
		ProjectID: *project,
		Status:    domain.DeploymentFailed,
	}
	result := manager.Rollback(ctx, failed, *project)
	fmt.Println(result.Message)
	if len(result.CleanedResources) > 0 {
		fmt.Printf("cleaned: %s\n", strings.Join(result.CleanedResources, ", "))
	}
	if result.RestoredDeploymentID != "" {
		fmt.Printf("restored: %s (%s)\n", result.RestoredDeploymentID, result.RestoredArtifactRef)
	}
	if result.RestoreErr != nil {
		return fmt.Errorf("restore failed: %w", result.RestoreErr)
	}
	return nil
}

func commandToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	clientID := fs.String("client", "", "Identity client identifier")
	secret := fs.String("secret", "", "Client secret")
	fs.Parse(args)

	if strings.TrimSpace(*clientID) == "" || strings.TrimSpace(*secret) == "" {
		return errors.New("--client and --secret are required")
	}
	cfg := config.LoadDeployerConfig()
	if !strings.EqualFold(cfg.IdentityMode, "local") {
		return errors.New("token issuance is only available in local identity mode")
	}
	log := logger.New("deploy", slog.LevelWarn)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	repoStore, cleanup, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	provider := identity.NewLocalProvider(repoStore, cfg.JWTSecret, log)
	token, err := provider.IssueToken(ctx, *clientID, *secret)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// openStore connects to Postgres, applies pending migrations and returns the
// repository plus a cleanup closure.
func openStore(ctx context.Context, cfg config.DeployerConfig, log *slog.Logger) (*postgres.Repository, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("configure migrations: %w", err)
	}
	if err := runner.Ping(ctx); err != nil {
		runner.Close()
		pool.Close()
		return nil, nil, fmt.Errorf("database ping: %w", err)
	}
	if err := runner.Ensure(ctx); err != nil {
		runner.Close()
		pool.Close()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	repo := postgres.New(pool, config.GetString("PG_DEPLOY_EVENTS_CHANNEL", "deploy_events"))
	cleanup := func() {
		runner.Close()
		pool.Close()
	}
	return repo, cleanup, nil
}

func newProvider(cfg config.DeployerConfig, repo *postgres.Repository, log *slog.Logger) identity.Provider {
	if strings.EqualFold(cfg.IdentityMode, "remote") {
		return remote.NewIdentityProviderClient(cfg.IdentityURL)
	}
	return identity.NewLocalProvider(repo, cfg.JWTSecret, log)
}

func printResult(result orchestrator.Result) {
	if result.Success {
		fmt.Println("deployment succeeded")
		fmt.Printf("deployment: %s\n", result.DeploymentID)
		if result.ArtifactRef != "" {
			fmt.Printf("artifact: %s\n", result.ArtifactRef)
		}
		if result.Endpoint != nil {
			fmt.Printf("endpoint: %s\n", result.Endpoint.URL)
		}
		if result.Identity.PoolID != "" {
			fmt.Printf("identity pool: %s\n", result.Identity.PoolID)
			fmt.Printf("identity client: %s\n", result.Identity.ClientID)
		}
		if result.Credentials != nil && result.Credentials.Secret != "" {
			fmt.Printf("client secret (shown once): %s\n", result.Credentials.Secret)
		}
		return
	}
	fmt.Fprintf(os.Stderr, "deployment failed: %s\n", result.Message)
	if result.Err != nil {
		fmt.Fprintf(os.Stderr, "category: %s code: %s\n", result.Err.Category, result.Err.Code)
		for _, suggestion := range result.Err.Suggestions {
			fmt.Fprintf(os.Stderr, "  - %s\n", suggestion)
		}
	}
	if result.RollbackAttempt && result.RollbackMessage != "" {
		fmt.Fprintf(os.Stderr, "rollback: %s\n", result.RollbackMessage)
	}
}

func parseEnv(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	env := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found || key == "" {
			continue
		}
		env[key] = value
	}
	return env
}

func printVersion() {
	fmt.Printf("gangway %s\n", buildVersion)
}

func printUsage() {
	fmt.Println(`gangway - deployment workflow CLI

Usage:
  gangway <command> [flags]

Commands:
  deploy    Build, deploy and verify a project
  status    Show the runtime status of a deployment
  history   List recorded deployments for a project
  rollback  Clean up a failed deployment and restore the last success
  token     Issue an access token for a registered client
  version   Print the CLI version
  help      Show this message

Run 'gangway <command> -h' for command flags.`)
}
