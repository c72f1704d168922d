package app

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"cidrbans/internal/app/bootstrap"
	"cidrbans/internal/app/server"
	"cidrbans/internal/app/version"
	"cidrbans/internal/config"
	"cidrbans/internal/jobs/maintenance"
)

// Run loads the environment and executes the command line in args.
func Run(ctx context.Context, args []string) error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}
	log.SetLevel(resolveLogLevel())

	return RootCommand().Run(ctx, args)
}

func resolveLogLevel() log.Level {
	raw := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if raw == "" {
		return log.InfoLevel
	}
	level, err := log.ParseLevel(raw)
	if err != nil {
		log.Warn("invalid LOG_LEVEL, using info", "value", raw)
		return log.InfoLevel
	}
	return level
}

// withServices opens the store for the duration of one command.
func withServices(ctx context.Context, fn func(*bootstrap.Services) error) error {
	services, err := bootstrap.Setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := services.Close(); err != nil {
			log.Warn("error closing services", "error", err)
		}
	}()
	return fn(services)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the admin API and the expired ban cleanup",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Usage:   "Port for the API server (default from settings)",
				Sources: cli.EnvVars("HTTP_PORT"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withServices(ctx, func(s *bootstrap.Services) error {
				port := resolvePort(int(cmd.Int("port")), config.GetConfig().HTTPPort)

				group, groupCtx := errgroup.WithContext(ctx)
				group.Go(func() error {
					maintenance.StartExpiredBanCleanup(groupCtx, s.Cleanup, s.Redis)
					return nil
				})
				group.Go(func() error {
					return server.OpenRoutes(groupCtx, port, server.NewRouter(server.Dependencies{
						Moderation: s.Moderation,
						Gate:       s.Gate,
						Cleanup:    s.Cleanup,
						Importer:   s.Importer,
					}))
				})
				return group.Wait()
			})
		},
	}
}

func resolvePort(flagValue, fallback int) int {
	if flagValue > 0 && flagValue <= 65535 {
		return flagValue
	}
	if flagValue != 0 {
		log.Warn("invalid port override", "value", flagValue)
	}
	return fallback
}

// RootCommand is the cidrbans command tree.
func RootCommand() *cli.Command {
	return &cli.Command{
		Name:            "cidrbans",
		Usage:           "Ban IPv4 ranges in CIDR notation",
		Version:         version.Get().String(),
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  actorFlag,
				Usage: "Name recorded as the issuer of new bans (default $USER, then console)",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			addCommand(),
			addTempCommand(),
			delCommand(),
			listCommand(),
			checkCommand(),
			importCommand(),
		},
	}
}

func parsePageArg(raw string) (int, error) {
	if raw == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 0, fmt.Errorf("invalid page number %q", raw)
	}
	return page, nil
}
