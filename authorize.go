package chatkit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/slack-go/slack"

	"github.com/chatkit-go/chatkit/store"
	"github.com/chatkit-go/chatkit/utils"
)

// AuthorizeResult is the resolved identity for one request. Exactly one of
// bot-token/user-token resolution wins; BotToken is preferred when both
// exist. Never persisted beyond the request, except in the optional
// per-token cache.
type AuthorizeResult struct {
	EnterpriseID string
	TeamID       string
	UserID       string
	BotID        string
	BotUserID    string
	BotToken     string
	UserToken    string
}

// Token returns the winning credential, bot token preferred.
func (r *AuthorizeResult) Token() string {
	if r.BotToken != "" {
		return r.BotToken
	}
	return r.UserToken
}

// AuthorizeArgs carries the identity fields extracted from the inbound
// payload.
type AuthorizeArgs struct {
	Context             *Context
	EnterpriseID        string
	TeamID              string
	UserID              string
	IsEnterpriseInstall bool
}

// Authorize resolves which credential applies to an inbound request's
// team/enterprise/user.
type Authorize interface {
	Authorize(ctx context.Context, args AuthorizeArgs) (*AuthorizeResult, error)
}

// AuthorizeFunc adapts a plain function to Authorize.
type AuthorizeFunc func(ctx context.Context, args AuthorizeArgs) (*AuthorizeResult, error)

func (f AuthorizeFunc) Authorize(ctx context.Context, args AuthorizeArgs) (*AuthorizeResult, error) {
	return f(ctx, args)
}

// identityConfirmer is the slice of the directory client the authorization
// layer needs. *slack.Client satisfies it.
type identityConfirmer interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
}

// -----------------------------------------------------------------------
// result cache
// -----------------------------------------------------------------------

// authorizeResultCache avoids redundant identity-confirmation calls within a
// process. Keyed by resolved token; entries are invalidated when a token is
// rotated, otherwise they live for the process lifetime. Treated as
// append-mostly: a race at worst causes a duplicate identity-confirmation
// call.
type authorizeResultCache struct {
	mu      sync.Mutex
	entries map[string]*AuthorizeResult
}

func newAuthorizeResultCache() *authorizeResultCache {
	return &authorizeResultCache{entries: map[string]*AuthorizeResult{}}
}

func (c *authorizeResultCache) get(token string) *AuthorizeResult {
	if c == nil || token == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[token]
}

func (c *authorizeResultCache) put(token string, result *AuthorizeResult) {
	if c == nil || token == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[token] = result
}

func (c *authorizeResultCache) invalidate(token string) {
	if c == nil || token == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, token)
}

// -----------------------------------------------------------------------
// single-workspace
// -----------------------------------------------------------------------

// singleTeamAuthorize assumes one fixed credential for every request and
// performs a lightweight identity-confirmation call per request (cached when
// enabled).
type singleTeamAuthorize struct {
	token         string
	clientFactory func(token string) *slack.Client
	cache         *authorizeResultCache
	log           utils.Logger
}

func (a *singleTeamAuthorize) Authorize(ctx context.Context, args AuthorizeArgs) (*AuthorizeResult, error) {
	if cached := a.cache.get(a.token); cached != nil {
		result := *cached
		result.UserID = args.UserID
		return &result, nil
	}

	confirmed, err := confirmIdentity(ctx, a.clientFactory(a.token))
	if err != nil {
		a.log.WithError(err).Debugf("the configured token is no longer valid")
		return nil, utils.NewUnauthorizedError(err)
	}
	result := &AuthorizeResult{
		EnterpriseID: confirmed.EnterpriseID,
		TeamID:       confirmed.TeamID,
		UserID:       args.UserID,
		BotID:        confirmed.BotID,
		BotUserID:    confirmed.UserID,
		BotToken:     a.token,
	}
	a.cache.put(a.token, result)
	return result, nil
}

// -----------------------------------------------------------------------
// multi-workspace (installation-store-backed)
// -----------------------------------------------------------------------

// InstallationStoreAuthorize resolves credentials from an InstallationStore,
// optionally rotating refresh-capable tokens before use.
type InstallationStoreAuthorize struct {
	Store store.InstallationStore
	// Rotator exchanges refresh tokens. Nil disables rotation.
	Rotator TokenRotator
	// RotationExpiration is how close to expiry a token must be before it is
	// rotated. Zero means the default of two hours.
	RotationExpiration time.Duration
	// CacheEnabled turns on the per-token result cache.
	CacheEnabled bool
	Log          utils.Logger

	clientFactory func(token string) *slack.Client
	cache         *authorizeResultCache
	cacheOnce     sync.Once
	now           func() time.Time
}

var _ Authorize = (*InstallationStoreAuthorize)(nil)

const defaultRotationExpiration = 2 * time.Hour

func (a *InstallationStoreAuthorize) Authorize(ctx context.Context, args AuthorizeArgs) (*AuthorizeResult, error) {
	a.cacheOnce.Do(func() {
		if a.CacheEnabled {
			a.cache = newAuthorizeResultCache()
		}
		if a.Log == nil {
			a.Log = utils.NilLogger()
		}
		if a.clientFactory == nil {
			a.clientFactory = func(token string) *slack.Client {
				return slack.New(token)
			}
		}
		if a.now == nil {
			a.now = time.Now
		}
	})

	installation, err := a.findInstallation(ctx, args)
	if err != nil {
		return nil, err
	}

	var bot *store.Bot
	if installation == nil {
		// the store only supports bot-level lookups
		bot, err = a.Store.FindBot(ctx, store.InstallationQuery{
			EnterpriseID:        args.EnterpriseID,
			TeamID:              args.TeamID,
			IsEnterpriseInstall: args.IsEnterpriseInstall,
		})
		if err != nil {
			return nil, utils.NewUnauthorizedError(
				errors.Wrapf(err, "no installation data for enterprise_id: %q team_id: %q",
					args.EnterpriseID, args.TeamID))
		}
		if rotated, rotateErr := a.rotateBot(ctx, bot); rotateErr != nil {
			return nil, rotateErr
		} else if rotated != nil {
			bot = rotated
		}
	} else {
		if rotated, rotateErr := a.rotateInstallation(ctx, installation); rotateErr != nil {
			return nil, rotateErr
		} else if rotated != nil {
			installation = rotated
		}
	}

	botToken := ""
	userToken := ""
	botID := ""
	botUserID := ""
	if installation != nil {
		botToken = installation.BotToken
		userToken = installation.UserToken
		botID = installation.BotID
		botUserID = installation.BotUserID
	} else if bot != nil {
		botToken = bot.BotToken
		botID = bot.BotID
		botUserID = bot.BotUserID
	}

	token := botToken
	if token == "" {
		token = userToken
	}
	if token == "" {
		return nil, utils.NewUnauthorizedError("no token found for enterprise_id: %q team_id: %q user_id: %q",
			args.EnterpriseID, args.TeamID, args.UserID)
	}

	if cached := a.cache.get(token); cached != nil {
		result := *cached
		result.UserID = args.UserID
		return &result, nil
	}

	confirmed, err := confirmIdentity(ctx, a.clientFactory(token))
	if err != nil {
		a.Log.WithError(err).Debugw("the stored token is no longer valid",
			"enterprise_id", args.EnterpriseID, "team_id", args.TeamID)
		return nil, utils.NewUnauthorizedError(err)
	}

	result := &AuthorizeResult{
		EnterpriseID: confirmed.EnterpriseID,
		TeamID:       confirmed.TeamID,
		UserID:       args.UserID,
		BotID:        confirmed.BotID,
		BotUserID:    botUserID,
		BotToken:     botToken,
	}
	if result.BotUserID == "" {
		result.BotUserID = confirmed.UserID
	}
	if result.BotID == "" {
		result.BotID = botID
	}
	if botToken == "" {
		result.UserToken = userToken
	}
	a.cache.put(token, result)
	return result, nil
}

// findInstallation implements the workspace-level lookup plus the
// user-mismatch re-fetch. Returns (nil, nil) when the store does not
// implement installation-level lookups, so the caller falls back to
// FindBot.
func (a *InstallationStoreAuthorize) findInstallation(ctx context.Context, args AuthorizeArgs) (*store.Installation, error) {
	installation, err := a.Store.FindInstallation(ctx, store.InstallationQuery{
		EnterpriseID:        args.EnterpriseID,
		TeamID:              args.TeamID,
		IsEnterpriseInstall: args.IsEnterpriseInstall,
	})
	switch {
	case errors.Is(errors.Cause(err), utils.ErrNotImplemented):
		return nil, nil
	case errors.Is(errors.Cause(err), utils.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(err, "installation lookup failed")
	}

	if args.UserID != "" && installation.UserID != args.UserID {
		// The workspace-level installer is somebody else. Never hand their
		// user token to this user; re-fetch the requesting user's own
		// installation instead.
		installation.UserID = ""
		installation.UserToken = ""
		installation.UserScopes = nil
		installation.UserRefreshToken = ""
		installation.UserTokenExpiresAt = time.Time{}

		own, ownErr := a.Store.FindInstallation(ctx, store.InstallationQuery{
			EnterpriseID:        args.EnterpriseID,
			TeamID:              args.TeamID,
			UserID:              args.UserID,
			IsEnterpriseInstall: args.IsEnterpriseInstall,
		})
		if ownErr == nil && own != nil {
			installation.UserID = own.UserID
			installation.UserToken = own.UserToken
			installation.UserScopes = own.UserScopes
			installation.UserRefreshToken = own.UserRefreshToken
			installation.UserTokenExpiresAt = own.UserTokenExpiresAt
		}
	}
	return installation, nil
}

func (a *InstallationStoreAuthorize) rotationWindow() time.Duration {
	if a.RotationExpiration > 0 {
		return a.RotationExpiration
	}
	return defaultRotationExpiration
}

func (a *InstallationStoreAuthorize) shouldRotate(refreshToken string, expiresAt time.Time) bool {
	return a.Rotator != nil &&
		refreshToken != "" &&
		!expiresAt.IsZero() &&
		a.now().Add(a.rotationWindow()).After(expiresAt)
}

// rotateInstallation refreshes near-expiry tokens and persists the refreshed
// record before use. The rotated-out tokens' cache entries are invalidated so
// a revoked token can never be served from the cache.
func (a *InstallationStoreAuthorize) rotateInstallation(ctx context.Context, installation *store.Installation) (*store.Installation, error) {
	rotatedAny := false

	if a.shouldRotate(installation.BotRefreshToken, installation.BotTokenExpiresAt) {
		rotated, err := a.Rotator.Refresh(ctx, installation.BotRefreshToken)
		if err != nil {
			return nil, utils.NewUnauthorizedError(errors.Wrap(err, "bot token rotation failed"))
		}
		a.cache.invalidate(installation.BotToken)
		installation.BotToken = rotated.AccessToken
		installation.BotRefreshToken = rotated.RefreshToken
		installation.BotTokenExpiresAt = rotated.ExpiresAt
		rotatedAny = true
	}

	if a.shouldRotate(installation.UserRefreshToken, installation.UserTokenExpiresAt) {
		rotated, err := a.Rotator.Refresh(ctx, installation.UserRefreshToken)
		if err != nil {
			return nil, utils.NewUnauthorizedError(errors.Wrap(err, "user token rotation failed"))
		}
		a.cache.invalidate(installation.UserToken)
		installation.UserToken = rotated.AccessToken
		installation.UserRefreshToken = rotated.RefreshToken
		installation.UserTokenExpiresAt = rotated.ExpiresAt
		rotatedAny = true
	}

	if rotatedAny {
		if err := a.Store.Save(ctx, installation); err != nil {
			return nil, errors.Wrap(err, "failed to persist rotated installation")
		}
	}
	return installation, nil
}

func (a *InstallationStoreAuthorize) rotateBot(ctx context.Context, bot *store.Bot) (*store.Bot, error) {
	if !a.shouldRotate(bot.BotRefreshToken, bot.BotTokenExpiresAt) {
		return bot, nil
	}
	rotated, err := a.Rotator.Refresh(ctx, bot.BotRefreshToken)
	if err != nil {
		return nil, utils.NewUnauthorizedError(errors.Wrap(err, "bot token rotation failed"))
	}
	a.cache.invalidate(bot.BotToken)
	bot.BotToken = rotated.AccessToken
	bot.BotRefreshToken = rotated.RefreshToken
	bot.BotTokenExpiresAt = rotated.ExpiresAt
	return bot, nil
}

func confirmIdentity(ctx context.Context, client identityConfirmer) (*slack.AuthTestResponse, error) {
	resp, err := client.AuthTestContext(ctx)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("identity confirmation returned no result")
	}
	return resp, nil
}

// -----------------------------------------------------------------------
// token rotation
// -----------------------------------------------------------------------

// RotatedTokens is the outcome of a refresh exchange.
type RotatedTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// TokenRotator exchanges a refresh token for a fresh access token.
type TokenRotator interface {
	Refresh(ctx context.Context, refreshToken string) (*RotatedTokens, error)
}

type oauthTokenRotator struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewOAuthTokenRotator rotates tokens through the platform's OAuth v2
// refresh exchange.
func NewOAuthTokenRotator(clientID, clientSecret string) TokenRotator {
	return &oauthTokenRotator{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   http.DefaultClient,
	}
}

func (r *oauthTokenRotator) Refresh(ctx context.Context, refreshToken string) (*RotatedTokens, error) {
	resp, err := slack.RefreshOAuthV2TokenContext(ctx, r.httpClient, r.clientID, r.clientSecret, refreshToken)
	if err != nil {
		return nil, errors.Wrap(err, "refresh exchange failed")
	}
	return &RotatedTokens{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}
