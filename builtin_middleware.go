package chatkit

import (
	"net/http"
	"regexp"

	"github.com/slack-go/slack"

	"github.com/chatkit-go/chatkit/payload"
	"github.com/chatkit-go/chatkit/utils"
)

// reinstallPrompt is the user-facing body for credential failures.
const reinstallPrompt = ":x: Please install this app into the workspace :bow:"

// noAuthRequired reports whether a payload is platform-protocol housekeeping
// that must go through even without a resolvable credential.
func noAuthRequired(a *Args) bool {
	return payload.IsURLVerification(a.Body) || payload.IsSSLCheck(a.Body)
}

// URLVerification answers the endpoint-ownership handshake by echoing the
// challenge back.
func URLVerification() Middleware {
	return MiddlewareFunc("url_verification", func(a *Args, next func() error) error {
		if !payload.IsURLVerification(a.Body) {
			return next()
		}
		return a.Response.Set(http.StatusOK, map[string]interface{}{
			"challenge": a.Body["challenge"],
		})
	})
}

// SSLCheck answers the platform's periodic ssl_check probe. When a
// verification token is configured, mismatching probes are rejected.
func SSLCheck(verificationToken string) Middleware {
	return MiddlewareFunc("ssl_check", func(a *Args, next func() error) error {
		if !payload.IsSSLCheck(a.Body) {
			return next()
		}
		if verificationToken != "" && verificationToken != payload.String(a.Body, "token") {
			return a.Response.Set(http.StatusUnauthorized, map[string]interface{}{
				"error": "invalid verification token",
			})
		}
		return a.Response.Set(http.StatusOK, "")
	})
}

// RequestVerification checks the request-origin signature (v0 HMAC-SHA256
// over the timestamp and raw body, with a replay window). Socket-transport
// requests arrive over an authenticated connection and are not re-verified.
func RequestVerification(signingSecret string) Middleware {
	return MiddlewareFunc("request_verification", func(a *Args, next func() error) error {
		if a.Request.Mode == ModeSocket {
			return next()
		}
		if err := verifySignature(a.Request, signingSecret); err != nil {
			a.Logger.WithError(err).Debugw("invalid request signature")
			return a.Response.Set(http.StatusUnauthorized, map[string]interface{}{
				"error": "invalid request",
			})
		}
		return next()
	})
}

func verifySignature(req *Request, signingSecret string) error {
	header := http.Header{}
	for name, values := range req.Headers {
		for _, v := range values {
			header.Add(name, v)
		}
	}
	sv, err := slack.NewSecretsVerifier(header, signingSecret)
	if err != nil {
		return err
	}
	if _, err = sv.Write([]byte(req.RawBody)); err != nil {
		return err
	}
	return sv.Ensure()
}

// IgnoringSelfEvents suppresses events produced by the app's own bot
// identity, acknowledging them so the platform stops retrying.
func IgnoringSelfEvents() Middleware {
	return MiddlewareFunc("ignoring_self_events", func(a *Args, next func() error) error {
		if isSelfEvent(a) {
			a.Logger.Debugf("skipping self event: %s", payload.String(payload.ToEvent(a.Body), "type"))
			return a.Ack(nil)
		}
		return next()
	})
}

func isSelfEvent(a *Args) bool {
	auth := a.Context.AuthorizeResult
	event := payload.ToEvent(a.Body)
	if auth == nil || event == nil {
		return false
	}
	if auth.BotUserID != "" && auth.BotUserID == payload.String(event, "user") {
		return true
	}
	return auth.BotID != "" && auth.BotID == payload.String(event, "bot_id")
}

// MessageListenerMatches gates a message listener on a keyword regex over the
// event text, stashing the capture groups in the context under "matches".
// A non-matching text is a non-match, not an error: the chain terminates and
// the dispatcher falls through to the next listener.
func MessageListenerMatches(keyword interface{}) (Middleware, error) {
	var re *regexp.Regexp
	switch k := keyword.(type) {
	case *regexp.Regexp:
		re = k
	case string:
		var err error
		re, err = regexp.Compile(k)
		if err != nil {
			return nil, utils.NewInvalidError("invalid message keyword %q: %v", k, err)
		}
	default:
		return nil, utils.NewInvalidError("message keyword must be a string or a *regexp.Regexp, got %T", keyword)
	}

	return MiddlewareFunc("message_listener_matches", func(a *Args, next func() error) error {
		event := payload.ToEvent(a.Body)
		text := payload.String(event, "text")
		if text == "" {
			return nil
		}
		m := re.FindStringSubmatch(text)
		if m == nil {
			return nil
		}
		a.Context.Set("matches", m[1:])
		return next()
	}), nil
}

// Authorization runs the configured Authorize per request and attaches the
// result to the context. Housekeeping payloads that require no credential
// pass through unauthorized; everything else gets a 401-class reinstall
// prompt on failure.
func Authorization(authorize Authorize) Middleware {
	return MiddlewareFunc("authorization", func(a *Args, next func() error) error {
		if noAuthRequired(a) {
			return next()
		}

		c := a.Context
		result, err := authorize.Authorize(a.Request.Ctx(), AuthorizeArgs{
			Context:             c,
			EnterpriseID:        c.EnterpriseID,
			TeamID:              c.TeamID,
			UserID:              c.UserID,
			IsEnterpriseInstall: c.IsEnterpriseInstall,
		})
		if err != nil || result == nil {
			a.Logger.WithError(err).Infow("no resolvable credential for this request",
				"enterprise_id", c.EnterpriseID,
				"team_id", c.TeamID,
				"user_id", c.UserID,
			)
			return a.Response.Set(http.StatusUnauthorized, reinstallPrompt)
		}

		c.AuthorizeResult = result
		c.Token = result.Token()
		c.BotID = result.BotID
		c.BotUserID = result.BotUserID
		// drop any client memoized before the token was known
		c.SetClient(nil)
		return next()
	})
}
