// Package store persists installation records issued during the OAuth grant
// flow, and resolves them back per request for the authorization layer.
package store

import (
	"context"
	"time"
)

// Installation binds a workspace (and optionally a specific user) to the
// credentials issued during an OAuth grant.
type Installation struct {
	AppID               string    `json:"app_id,omitempty"`
	EnterpriseID        string    `json:"enterprise_id,omitempty"`
	TeamID              string    `json:"team_id,omitempty"`
	TeamName            string    `json:"team_name,omitempty"`
	UserID              string    `json:"user_id,omitempty"`
	IsEnterpriseInstall bool      `json:"is_enterprise_install,omitempty"`
	BotID               string    `json:"bot_id,omitempty"`
	BotUserID           string    `json:"bot_user_id,omitempty"`
	BotToken            string    `json:"bot_token,omitempty"`
	BotScopes           []string  `json:"bot_scopes,omitempty"`
	BotRefreshToken     string    `json:"bot_refresh_token,omitempty"`
	BotTokenExpiresAt   time.Time `json:"bot_token_expires_at,omitempty"`
	UserToken           string    `json:"user_token,omitempty"`
	UserScopes          []string  `json:"user_scopes,omitempty"`
	UserRefreshToken    string    `json:"user_refresh_token,omitempty"`
	UserTokenExpiresAt  time.Time `json:"user_token_expires_at,omitempty"`
	InstalledAt         time.Time `json:"installed_at,omitempty"`
}

// ToBot projects the bot-only view of an installation.
func (i *Installation) ToBot() *Bot {
	return &Bot{
		AppID:             i.AppID,
		EnterpriseID:      i.EnterpriseID,
		TeamID:            i.TeamID,
		BotID:             i.BotID,
		BotUserID:         i.BotUserID,
		BotToken:          i.BotToken,
		BotScopes:         append([]string(nil), i.BotScopes...),
		BotRefreshToken:   i.BotRefreshToken,
		BotTokenExpiresAt: i.BotTokenExpiresAt,
		InstalledAt:       i.InstalledAt,
	}
}

// Bot is the workspace-level bot credential, without any user tokens.
type Bot struct {
	AppID             string    `json:"app_id,omitempty"`
	EnterpriseID      string    `json:"enterprise_id,omitempty"`
	TeamID            string    `json:"team_id,omitempty"`
	BotID             string    `json:"bot_id,omitempty"`
	BotUserID         string    `json:"bot_user_id,omitempty"`
	BotToken          string    `json:"bot_token,omitempty"`
	BotScopes         []string  `json:"bot_scopes,omitempty"`
	BotRefreshToken   string    `json:"bot_refresh_token,omitempty"`
	BotTokenExpiresAt time.Time `json:"bot_token_expires_at,omitempty"`
	InstalledAt       time.Time `json:"installed_at,omitempty"`
}

// InstallationQuery identifies the installation to resolve. TeamID may be
// empty for org-wide installs. UserID empty means "the workspace-level
// installer, whoever that was".
type InstallationQuery struct {
	EnterpriseID        string
	TeamID              string
	UserID              string
	IsEnterpriseInstall bool
}

// InstallationStore persists and resolves installations. Implementations
// return an error wrapping utils.ErrNotFound when no record matches, and may
// return an error wrapping utils.ErrNotImplemented from FindInstallation to
// signal that only bot-level lookups are supported.
type InstallationStore interface {
	Save(ctx context.Context, installation *Installation) error
	FindInstallation(ctx context.Context, q InstallationQuery) (*Installation, error)
	FindBot(ctx context.Context, q InstallationQuery) (*Bot, error)
}
