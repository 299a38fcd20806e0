package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"accordgo/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database for the given driver type.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			dbCfg.Params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				email TEXT NOT NULL UNIQUE,
				display_name TEXT NOT NULL,
				password_hash TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS user_tokens (
				token TEXT PRIMARY KEY,
				user_id INTEGER NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_user_tokens_user ON user_tokens(user_id)`,
			`CREATE TABLE IF NOT EXISTS cases (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				case_type TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'draft',
				ai_summary TEXT NOT NULL DEFAULT '',
				invite_token TEXT NOT NULL DEFAULT '',
				invite_email TEXT NOT NULL DEFAULT '',
				created_by INTEGER NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(created_by) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_cases_invite_token ON cases(invite_token)`,
			`CREATE TABLE IF NOT EXISTS case_participants (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				case_id INTEGER NOT NULL,
				user_id INTEGER NOT NULL,
				role TEXT NOT NULL,
				has_signed INTEGER NOT NULL DEFAULT 0,
				signed_at DATETIME,
				UNIQUE(case_id, user_id),
				FOREIGN KEY(case_id) REFERENCES cases(id) ON DELETE CASCADE,
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS case_contexts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				case_id INTEGER NOT NULL,
				user_id INTEGER NOT NULL,
				background TEXT NOT NULL DEFAULT '',
				goals TEXT NOT NULL DEFAULT '',
				acceptable_outcome TEXT NOT NULL DEFAULT '',
				constraints_text TEXT NOT NULL DEFAULT '',
				sensitivity_level TEXT NOT NULL DEFAULT 'normal',
				created_at DATETIME NOT NULL,
				UNIQUE(case_id, user_id),
				FOREIGN KEY(case_id) REFERENCES cases(id) ON DELETE CASCADE,
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				case_id INTEGER NOT NULL,
				sender_user_id INTEGER,
				sender_type TEXT NOT NULL,
				message_type TEXT NOT NULL DEFAULT 'plain',
				content TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(case_id) REFERENCES cases(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_case ON messages(case_id, created_at)`,
			`CREATE TABLE IF NOT EXISTS agreements (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				case_id INTEGER NOT NULL UNIQUE,
				draft_text TEXT NOT NULL DEFAULT '',
				finalized_text TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'draft',
				finalized_at DATETIME,
				FOREIGN KEY(case_id) REFERENCES cases(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS case_files (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				case_id INTEGER NOT NULL,
				user_id INTEGER NOT NULL,
				file_name TEXT NOT NULL,
				stored_path TEXT NOT NULL,
				mime_type TEXT NOT NULL,
				size INTEGER NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(case_id) REFERENCES cases(id) ON DELETE CASCADE,
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_case_files_case ON case_files(case_id)`,
			`CREATE TABLE IF NOT EXISTS rate_limits (
				user_id INTEGER PRIMARY KEY,
				timestamps TEXT NOT NULL DEFAULT '[]',
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				email VARCHAR(255) NOT NULL UNIQUE,
				display_name VARCHAR(255) NOT NULL,
				password_hash VARCHAR(255) NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS user_tokens (
				token VARCHAR(255) NOT NULL PRIMARY KEY,
				user_id BIGINT UNSIGNED NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				INDEX idx_user_tokens_user (user_id),
				CONSTRAINT fk_user_tokens_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS cases (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				title VARCHAR(255) NOT NULL,
				description TEXT NOT NULL,
				case_type VARCHAR(100) NOT NULL,
				status VARCHAR(50) NOT NULL DEFAULT 'draft',
				ai_summary MEDIUMTEXT NOT NULL,
				invite_token VARCHAR(255) NOT NULL DEFAULT '',
				invite_email VARCHAR(255) NOT NULL DEFAULT '',
				created_by BIGINT UNSIGNED NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_cases_invite_token (invite_token),
				CONSTRAINT fk_cases_creator FOREIGN KEY (created_by) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS case_participants (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				case_id BIGINT UNSIGNED NOT NULL,
				user_id BIGINT UNSIGNED NOT NULL,
				role VARCHAR(50) NOT NULL,
				has_signed TINYINT(1) NOT NULL DEFAULT 0,
				signed_at DATETIME,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_case_user (case_id, user_id),
				CONSTRAINT fk_participants_case FOREIGN KEY (case_id) REFERENCES cases(id) ON DELETE CASCADE,
				CONSTRAINT fk_participants_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS case_contexts (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				case_id BIGINT UNSIGNED NOT NULL,
				user_id BIGINT UNSIGNED NOT NULL,
				background TEXT NOT NULL,
				goals TEXT NOT NULL,
				acceptable_outcome TEXT NOT NULL,
				constraints_text TEXT NOT NULL,
				sensitivity_level VARCHAR(50) NOT NULL DEFAULT 'normal',
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_context_case_user (case_id, user_id),
				CONSTRAINT fk_contexts_case FOREIGN KEY (case_id) REFERENCES cases(id) ON DELETE CASCADE,
				CONSTRAINT fk_contexts_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS messages (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				case_id BIGINT UNSIGNED NOT NULL,
				sender_user_id BIGINT UNSIGNED,
				sender_type VARCHAR(20) NOT NULL,
				message_type VARCHAR(50) NOT NULL DEFAULT 'plain',
				content MEDIUMTEXT NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_messages_case (case_id, created_at),
				CONSTRAINT fk_messages_case FOREIGN KEY (case_id) REFERENCES cases(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS agreements (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				case_id BIGINT UNSIGNED NOT NULL UNIQUE,
				draft_text MEDIUMTEXT NOT NULL,
				finalized_text MEDIUMTEXT NOT NULL,
				status VARCHAR(50) NOT NULL DEFAULT 'draft',
				finalized_at DATETIME,
				PRIMARY KEY (id),
				CONSTRAINT fk_agreements_case FOREIGN KEY (case_id) REFERENCES cases(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS case_files (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				case_id BIGINT UNSIGNED NOT NULL,
				user_id BIGINT UNSIGNED NOT NULL,
				file_name VARCHAR(255) NOT NULL,
				stored_path TEXT NOT NULL,
				mime_type VARCHAR(255) NOT NULL,
				size BIGINT NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_case_files_case (case_id),
				CONSTRAINT fk_case_files_case FOREIGN KEY (case_id) REFERENCES cases(id) ON DELETE CASCADE,
				CONSTRAINT fk_case_files_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS rate_limits (
				user_id BIGINT UNSIGNED NOT NULL PRIMARY KEY,
				timestamps TEXT NOT NULL,
				CONSTRAINT fk_rate_limits_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
