package main

import (
	"bufio"
	"database/sql"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"timebank/internal/config"
	"timebank/internal/db"
	"timebank/internal/logging"

	"go.uber.org/zap"
)

const downMarker = "-- +migrate Down"

// migrate applies migrations/*.sql in name order. Run with "down" to revert
// the most recently applied file.
func main() {
	cfg := config.Load()
	logger, err := logging.NewLoggerFromEnv()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	if _, err := database.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (filename text primary key, applied_at timestamptz default now())`); err != nil {
		logger.Fatal("failed to ensure schema_migrations", zap.Error(err))
	}

	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		logger.Fatal("failed to read migrations", zap.Error(err))
	}
	sort.Strings(files)

	if len(os.Args) > 1 && os.Args[1] == "down" {
		var last string
		if err := database.Get(&last, `SELECT filename FROM schema_migrations ORDER BY filename DESC LIMIT 1`); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				logger.Info("nothing to revert")
				return
			}
			logger.Fatal("failed to read migration state", zap.Error(err))
		}
		if err := applyFile(database, filepath.Join(dir, last), false); err != nil {
			logger.Fatal("failed to revert", zap.String("file", last), zap.Error(err))
		}
		if _, err := database.Exec(`DELETE FROM schema_migrations WHERE filename = $1`, last); err != nil {
			logger.Fatal("failed to record revert", zap.String("file", last), zap.Error(err))
		}
		logger.Info("reverted", zap.String("file", last))
		return
	}

	for _, file := range files {
		filename := filepath.Base(file)
		var exists bool
		if err := database.Get(&exists, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, filename); err != nil {
			logger.Fatal("failed to read migration state", zap.Error(err))
		}
		if exists {
			continue
		}
		if err := applyFile(database, file, true); err != nil {
			logger.Fatal("failed to apply", zap.String("file", filename), zap.Error(err))
		}
		if _, err := database.Exec(`INSERT INTO schema_migrations (filename) VALUES ($1)`, filename); err != nil {
			logger.Fatal("failed to record migration", zap.String("file", filename), zap.Error(err))
		}
		logger.Info("applied", zap.String("file", filename))
	}
}

func applyFile(db execer, path string, up bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	upSQL, downSQL, _ := strings.Cut(string(content), downMarker)
	section := upSQL
	if !up {
		section = downSQL
	}
	for _, stmt := range splitSQL(section) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func splitSQL(sqlText string) []string {
	var statements []string
	var current strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(sqlText))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		current.WriteString(line)
		current.WriteRune('\n')
		if strings.Contains(line, ";") {
			statements = append(statements, current.String())
			current.Reset()
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		statements = append(statements, current.String())
	}
	return statements
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}
