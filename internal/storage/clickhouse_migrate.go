package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/coin-tracker/internal/logging"
)

//go:embed migrations/clickhouse/*.sql
var clickhouseMigrations embed.FS

// statementExecer is the part of ClickHouseDB the migration runner needs
type statementExecer interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
}

// RunClickHouseMigrations applies the embedded ClickHouse migrations in file name order.
// Every statement is written to be idempotent.
func RunClickHouseMigrations(ctx context.Context, db statementExecer) error {
	return runClickHouseMigrations(ctx, db, clickhouseMigrations, "migrations/clickhouse")
}

func runClickHouseMigrations(ctx context.Context, db statementExecer, fsys fs.FS, dir string) error {
	logger := logging.FromContext(ctx)

	// Glob returns names in lexical order, which is the numbered apply order
	files, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	if len(files) == 0 {
		logger.Warn("No ClickHouse migration files found")
		return nil
	}

	for _, file := range files {
		filename := path.Base(file)
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		for i, stmt := range splitSQLStatements(string(content)) {
			logger.WithFields(map[string]interface{}{
				"file":      filename,
				"statement": i + 1,
			}).Debugf("Executing %s", truncate(stmt, 80))

			if err := db.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute statement %d in %s: %w", i+1, filename, err)
			}
		}

		logger.WithField("file", filename).Info("Applied ClickHouse migration")
	}

	return nil
}

// splitSQLStatements splits SQL content into individual statements.
// Comment-only lines are dropped and trailing semicolons removed.
func splitSQLStatements(content string) []string {
	var statements []string
	var currentStmt strings.Builder

	flush := func() {
		stmt := strings.TrimSuffix(strings.TrimSpace(currentStmt.String()), ";")
		if stmt != "" {
			statements = append(statements, stmt)
		}
		currentStmt.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		trimmedLine := strings.TrimSpace(line)
		if trimmedLine == "" || strings.HasPrefix(trimmedLine, "--") {
			continue
		}

		currentStmt.WriteString(line)
		currentStmt.WriteString("\n")

		if strings.HasSuffix(trimmedLine, ";") {
			flush()
		}
	}
	flush()

	return statements
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
