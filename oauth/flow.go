// Package oauth implements the installation grant flow: the install endpoint
// redirects the installer to the platform's authorize page, and the callback
// endpoint exchanges the returned code for credentials and persists them.
package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/slack-go/slack"

	"github.com/chatkit-go/chatkit/store"
	"github.com/chatkit-go/chatkit/utils"
	"github.com/chatkit-go/chatkit/utils/httputils"
)

const defaultAuthorizationURL = "https://slack.com/oauth/v2/authorize"

// Flow wires the two HTTP endpoints of the grant flow. ClientID,
// ClientSecret, and Store are required; everything else has defaults.
type Flow struct {
	ClientID     string
	ClientSecret string
	// Scopes are the bot scopes requested at install time.
	Scopes []string
	// UserScopes are the user scopes requested at install time, if any.
	UserScopes []string
	// RedirectURI must match one of the redirect URLs registered with the
	// platform. Empty lets the platform use its sole registered URL.
	RedirectURI string
	// AuthorizationURL overrides the platform authorize page, for tests.
	AuthorizationURL string

	Store store.InstallationStore
	// States guards the callback against forgery. Nil means an in-memory
	// single-use store.
	States StateStore

	Log utils.Logger

	httpClient *http.Client
	exchange   func(ctx context.Context, code string) (*slack.OAuthV2Response, error)
	now        func() time.Time
}

func (f *Flow) stateStore() StateStore {
	if f.States == nil {
		f.States = &MemoryStateStore{}
	}
	return f.States
}

func (f *Flow) log() utils.Logger {
	if f.Log == nil {
		f.Log = utils.NilLogger()
	}
	return f.Log
}

func (f *Flow) client() *http.Client {
	if f.httpClient == nil {
		return http.DefaultClient
	}
	return f.httpClient
}

func (f *Flow) timeNow() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}

// HandleInstall issues a fresh state and redirects the installer to the
// authorize page.
func (f *Flow) HandleInstall(w http.ResponseWriter, r *http.Request) {
	state, err := f.stateStore().Issue(r.Context())
	if err != nil {
		f.log().WithError(err).Errorw("failed to issue an install state")
		httputils.WriteError(w, errors.Wrap(err, "failed to start the install flow"))
		return
	}

	authorizeURL := f.AuthorizationURL
	if authorizeURL == "" {
		authorizeURL = defaultAuthorizationURL
	}
	v := url.Values{}
	v.Set("client_id", f.ClientID)
	v.Set("scope", strings.Join(f.Scopes, ","))
	if len(f.UserScopes) > 0 {
		v.Set("user_scope", strings.Join(f.UserScopes, ","))
	}
	v.Set("state", state)
	if f.RedirectURI != "" {
		v.Set("redirect_uri", f.RedirectURI)
	}

	http.Redirect(w, r, authorizeURL+"?"+v.Encode(), http.StatusFound)
}

// HandleCallback validates the state, exchanges the code, and persists the
// resulting installation.
func (f *Flow) HandleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if errDescription := query.Get("error"); errDescription != "" {
		// the installer declined on the authorize page
		f.renderFailure(w, http.StatusOK, fmt.Sprintf("The installation was cancelled: %s", errDescription))
		return
	}

	code := query.Get("code")
	if code == "" {
		f.renderFailure(w, http.StatusBadRequest, "The callback is missing the authorization code.")
		return
	}
	if err := f.stateStore().Consume(r.Context(), query.Get("state")); err != nil {
		f.log().WithError(err).Infow("rejected a callback with a bad state")
		f.renderFailure(w, http.StatusBadRequest, "The state value is missing, expired, or already used. Please restart the installation.")
		return
	}

	resp, err := f.exchangeCode(r.Context(), code)
	if err != nil {
		f.log().WithError(err).Errorw("the code exchange failed")
		f.renderFailure(w, http.StatusInternalServerError, "The authorization code could not be exchanged. Please restart the installation.")
		return
	}

	installation := f.installationFromResponse(resp)
	if err = f.Store.Save(r.Context(), installation); err != nil {
		f.log().WithError(err).Errorw("failed to persist the installation",
			"enterprise_id", installation.EnterpriseID,
			"team_id", installation.TeamID,
		)
		f.renderFailure(w, http.StatusInternalServerError, "The installation could not be saved. Please restart the installation.")
		return
	}

	f.log().Infow("completed an installation",
		"enterprise_id", installation.EnterpriseID,
		"team_id", installation.TeamID,
		"user_id", installation.UserID,
	)
	f.renderSuccess(w, installation)
}

func (f *Flow) exchangeCode(ctx context.Context, code string) (*slack.OAuthV2Response, error) {
	if f.exchange != nil {
		return f.exchange(ctx, code)
	}
	return slack.GetOAuthV2ResponseContext(ctx, f.client(), f.ClientID, f.ClientSecret, code, f.RedirectURI)
}

func (f *Flow) installationFromResponse(resp *slack.OAuthV2Response) *store.Installation {
	now := f.timeNow()
	installation := &store.Installation{
		AppID:               resp.AppID,
		EnterpriseID:        resp.Enterprise.ID,
		TeamID:              resp.Team.ID,
		TeamName:            resp.Team.Name,
		UserID:              resp.AuthedUser.ID,
		IsEnterpriseInstall: resp.IsEnterpriseInstall,
		BotUserID:           resp.BotUserID,
		BotToken:            resp.AccessToken,
		BotScopes:           splitScopes(resp.Scope),
		BotRefreshToken:     resp.RefreshToken,
		UserToken:           resp.AuthedUser.AccessToken,
		UserScopes:          splitScopes(resp.AuthedUser.Scope),
		UserRefreshToken:    resp.AuthedUser.RefreshToken,
		InstalledAt:         now,
	}
	if resp.ExpiresIn > 0 {
		installation.BotTokenExpiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	if resp.AuthedUser.ExpiresIn > 0 {
		installation.UserTokenExpiresAt = now.Add(time.Duration(resp.AuthedUser.ExpiresIn) * time.Second)
	}
	return installation
}

func splitScopes(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func (f *Flow) renderSuccess(w http.ResponseWriter, installation *store.Installation) {
	target := installation.TeamName
	if target == "" {
		target = "your workspace"
	}
	writePage(w, http.StatusOK, "Installation complete",
		fmt.Sprintf("The app was installed into %s. You can close this page.", target))
}

func (f *Flow) renderFailure(w http.ResponseWriter, status int, message string) {
	writePage(w, status, "Installation failed", message)
}

func writePage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<html><head><title>%s</title></head><body><h2>%s</h2><p>%s</p></body></html>`,
		title, title, message)
}
