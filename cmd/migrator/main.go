package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"judgeauth/internal/app"
	"judgeauth/internal/config"
	"judgeauth/internal/domain/models"
	"judgeauth/internal/lib/handlers/slogpretty"
	"judgeauth/internal/lib/password"
	"judgeauth/internal/lib/sl"
	"judgeauth/internal/migrator"
	"judgeauth/internal/storage"

	"golang.org/x/term"
)

func main() {
	var (
		configPath    string
		adminUsername string
		adminName     string
		adminPassword string
	)
	flag.StringVar(&configPath, "config", "", "path to config file (or use CONFIG_PATH env)")
	flag.StringVar(&adminUsername, "admin", "", "username of an admin account to seed")
	flag.StringVar(&adminName, "admin-name", "", "display name of the seeded admin (defaults to username)")
	flag.StringVar(&adminPassword, "admin-password", "", "password of the seeded admin (or use ADMIN_PASSWORD env)")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if adminPassword == "" {
		adminPassword = os.Getenv("ADMIN_PASSWORD")
	}
	if adminUsername != "" && adminPassword == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		adminPassword = promptPassword(adminUsername)
	}

	log := slog.New(slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{Level: slog.LevelInfo},
	}.NewPrettyHandler(os.Stdout))

	cfg := config.MustLoadPath(configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := migrate(ctx, log, cfg); err != nil {
		log.Error("migration failed", sl.Err(err))
		os.Exit(1)
	}

	if adminUsername != "" {
		if adminName == "" {
			adminName = adminUsername
		}
		if err := seedAdmin(ctx, log, cfg, adminUsername, adminName, adminPassword); err != nil {
			log.Error("failed to seed admin", sl.Err(err))
			os.Exit(1)
		}
	}

	log.Info("database initialization completed")
}

func migrate(ctx context.Context, log *slog.Logger, cfg *config.Config) error {
	var (
		applied bool
		err     error
	)

	switch cfg.Storage.Type {
	case config.StorageSQLite:
		applied, err = migrator.SQLite(cfg.Storage.Path)
	case config.StoragePostgres:
		applied, err = migrator.Postgres(cfg.Storage.DSN)
	case config.StorageMongo:
		// Opening the store creates the indexes.
		s, openErr := app.NewStorage(ctx, cfg)
		if openErr != nil {
			return openErr
		}
		log.Info("mongodb indexes are in place")
		return s.Close()
	case config.StorageMemory:
		log.Info("memory storage needs no migrations")
		return nil
	}
	if err != nil {
		return err
	}

	if applied {
		log.Info("migrations applied", slog.String("storage", cfg.Storage.Type))
	} else {
		log.Info("no migrations to apply", slog.String("storage", cfg.Storage.Type))
	}

	return nil
}

func seedAdmin(ctx context.Context, log *slog.Logger, cfg *config.Config, username, displayName, pass string) error {
	if pass == "" {
		return errors.New("admin password is required")
	}

	verifier, err := password.New(cfg.Password.Scheme)
	if err != nil {
		return err
	}
	digest, err := verifier.Digest(pass)
	if err != nil {
		return err
	}

	s, err := app.NewStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.SaveUser(ctx, models.User{
		Username:    username,
		DisplayName: displayName,
		PassHash:    digest,
		Role:        models.RoleAdmin,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Info("admin already exists", slog.String("username", username))
			return nil
		}
		return err
	}

	log.Info("admin seeded", slog.String("username", username), slog.Int64("uid", id))

	return nil
}

// promptPassword reads the admin password from the terminal without echo.
func promptPassword(username string) string {
	fmt.Fprintf(os.Stderr, "password for %s: ", username)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return string(b)
}
