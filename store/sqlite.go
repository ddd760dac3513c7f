package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/chatkit-go/chatkit/utils"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS installations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	app_id TEXT NOT NULL DEFAULT '',
	enterprise_id TEXT NOT NULL DEFAULT '',
	team_id TEXT NOT NULL DEFAULT '',
	team_name TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	is_enterprise_install BOOLEAN NOT NULL DEFAULT 0,
	bot_id TEXT NOT NULL DEFAULT '',
	bot_user_id TEXT NOT NULL DEFAULT '',
	bot_token TEXT NOT NULL DEFAULT '',
	bot_scopes TEXT NOT NULL DEFAULT '',
	bot_refresh_token TEXT NOT NULL DEFAULT '',
	bot_token_expires_at INTEGER NOT NULL DEFAULT 0,
	user_token TEXT NOT NULL DEFAULT '',
	user_scopes TEXT NOT NULL DEFAULT '',
	user_refresh_token TEXT NOT NULL DEFAULT '',
	user_token_expires_at INTEGER NOT NULL DEFAULT 0,
	installed_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_installations_workspace
	ON installations(enterprise_id, team_id, user_id, id);
`

// SQLiteStore is a file-backed InstallationStore using the pure-Go sqlite
// driver. Each Save appends a row; lookups take the latest matching row.
type SQLiteStore struct {
	db *sql.DB
}

var _ InstallationStore = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open installation db")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to apply installation schema")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, installation *Installation) error {
	if installation == nil {
		return utils.NewInvalidError("installation is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO installations (
			app_id, enterprise_id, team_id, team_name, user_id, is_enterprise_install,
			bot_id, bot_user_id, bot_token, bot_scopes, bot_refresh_token, bot_token_expires_at,
			user_token, user_scopes, user_refresh_token, user_token_expires_at, installed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		installation.AppID,
		installation.EnterpriseID,
		installation.TeamID,
		installation.TeamName,
		installation.UserID,
		installation.IsEnterpriseInstall,
		installation.BotID,
		installation.BotUserID,
		installation.BotToken,
		strings.Join(installation.BotScopes, ","),
		installation.BotRefreshToken,
		unixOrZero(installation.BotTokenExpiresAt),
		installation.UserToken,
		strings.Join(installation.UserScopes, ","),
		installation.UserRefreshToken,
		unixOrZero(installation.UserTokenExpiresAt),
		unixOrZero(installation.InstalledAt),
	)
	return errors.Wrap(err, "failed to save installation")
}

func (s *SQLiteStore) FindInstallation(ctx context.Context, q InstallationQuery) (*Installation, error) {
	teamID := q.TeamID
	if q.IsEnterpriseInstall {
		teamID = ""
	}

	query := `
		SELECT app_id, enterprise_id, team_id, team_name, user_id, is_enterprise_install,
			bot_id, bot_user_id, bot_token, bot_scopes, bot_refresh_token, bot_token_expires_at,
			user_token, user_scopes, user_refresh_token, user_token_expires_at, installed_at
		FROM installations
		WHERE enterprise_id = ? AND team_id = ?`
	args := []interface{}{q.EnterpriseID, teamID}
	if q.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, q.UserID)
	}
	query += ` ORDER BY id DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, args...)

	var installation Installation
	var botScopes, userScopes string
	var botExpires, userExpires, installedAt int64
	err := row.Scan(
		&installation.AppID,
		&installation.EnterpriseID,
		&installation.TeamID,
		&installation.TeamName,
		&installation.UserID,
		&installation.IsEnterpriseInstall,
		&installation.BotID,
		&installation.BotUserID,
		&installation.BotToken,
		&botScopes,
		&installation.BotRefreshToken,
		&botExpires,
		&installation.UserToken,
		&userScopes,
		&installation.UserRefreshToken,
		&userExpires,
		&installedAt,
	)
	switch {
	case err == sql.ErrNoRows:
		return nil, utils.NewNotFoundError("no installation for enterprise_id: %q team_id: %q user_id: %q",
			q.EnterpriseID, q.TeamID, q.UserID)
	case err != nil:
		return nil, errors.Wrap(err, "failed to look up installation")
	}

	installation.BotScopes = splitScopes(botScopes)
	installation.UserScopes = splitScopes(userScopes)
	installation.BotTokenExpiresAt = timeOrZero(botExpires)
	installation.UserTokenExpiresAt = timeOrZero(userExpires)
	installation.InstalledAt = timeOrZero(installedAt)
	return &installation, nil
}

func (s *SQLiteStore) FindBot(ctx context.Context, q InstallationQuery) (*Bot, error) {
	q.UserID = ""
	installation, err := s.FindInstallation(ctx, q)
	if err != nil {
		return nil, err
	}
	return installation.ToBot(), nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

func splitScopes(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
