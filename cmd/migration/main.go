// Command migration applies the schema in db/migrations.
package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// dbEnv is the subset of the worker configuration the migrator needs, so it
// runs without provider credentials
type dbEnv struct {
	URL           string `envconfig:"DATABASE_URL"`
	Host          string `envconfig:"DATABASE_HOST" default:"localhost"`
	Port          int    `envconfig:"DATABASE_PORT" default:"5432"`
	Name          string `envconfig:"DATABASE_NAME" default:"papp"`
	User          string `envconfig:"DATABASE_USER" default:"papp_user"`
	Password      string `envconfig:"DATABASE_PASSWORD"`
	SSLMode       string `envconfig:"DATABASE_SSL_MODE" default:"disable"`
	MigrationsDir string `envconfig:"MIGRATIONS_DIR" default:"./db/migrations"`
}

func (e dbEnv) databaseURL() string {
	if e.URL != "" {
		return e.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(e.User, e.Password),
		Host:     fmt.Sprintf("%s:%d", e.Host, e.Port),
		Path:     "/" + e.Name,
		RawQuery: url.Values{"sslmode": {e.SSLMode}}.Encode(),
	}
	return u.String()
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	var env dbEnv
	if err := envconfig.Process("", &env); err != nil {
		log.Fatal().Err(err).Msg("Failed to process environment config")
	}

	dir, err := filepath.Abs(env.MigrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve migrations directory")
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		log.Fatal().Str("dir", dir).Msg("Migrations directory not found")
	}

	source := "file://" + filepath.ToSlash(dir)
	m, err := migrate.New(source, env.databaseURL())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrator")
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			log.Warn().AnErr("source", srcErr).AnErr("database", dbErr).Msg("Failed to close migrator")
		}
	}()

	args := os.Args[2:]
	switch cmd := strings.ToLower(os.Args[1]); cmd {
	case "up":
		check(m.Up())
		log.Info().Str("source", source).Msg("Migrations applied")
	case "down":
		steps := 1
		if len(args) > 0 {
			steps = mustInt(args[0])
		}
		if steps <= 0 {
			log.Fatal().Int("steps", steps).Msg("down steps must be positive")
		}
		check(m.Steps(-steps))
		log.Info().Int("steps", steps).Msg("Migrations rolled back")
	case "version":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("version: none")
			return
		}
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read version")
		}
		fmt.Printf("version: %d\ndirty: %t\n", version, dirty)
	case "force":
		if len(args) == 0 {
			log.Fatal().Msg("force requires a version")
		}
		version := mustInt(args[0])
		if err := m.Force(version); err != nil {
			log.Fatal().Err(err).Int("version", version).Msg("Failed to force version")
		}
		log.Info().Int("version", version).Msg("Version forced")
	case "goto":
		if len(args) == 0 {
			log.Fatal().Msg("goto requires a target version")
		}
		target := mustInt(args[0])
		if target < 0 {
			log.Fatal().Int("target", target).Msg("target version must not be negative")
		}
		check(m.Migrate(uint(target)))
		log.Info().Int("version", target).Msg("Migrated")
	default:
		usage()
		os.Exit(2)
	}
}

func check(err error) {
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info().Msg("No migration changes")
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

func mustInt(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Fatal().Err(err).Str("value", raw).Msg("Invalid number")
	}
	return n
}

func usage() {
	name := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr, "usage: %s <up|down [n]|version|force <v>|goto <v>>\n", name)
}
