package chatkit

import (
	"github.com/slack-go/slack"

	"github.com/chatkit-go/chatkit/utils"
)

// Context is the mutable per-request bag. The fixed identity fields are
// extracted from the parsed body at request-build time; everything else any
// collaborator wants to stash goes into the extensions map via Set/Get.
type Context struct {
	EnterpriseID        string
	TeamID              string
	UserID              string
	ChannelID           string
	ResponseURL         string
	IsEnterpriseInstall bool

	// Token is the credential resolved by the authorization layer; empty
	// until authorization ran.
	Token string
	// BotID and BotUserID identify the app's own bot, per the authorization
	// result. Used for self-event suppression.
	BotID     string
	BotUserID string
	// AuthorizeResult is the full resolution, when authorization succeeded.
	AuthorizeResult *AuthorizeResult

	Logger utils.Logger

	client        *slack.Client
	clientFactory func(token string) *slack.Client
	runner        *lazyRunner

	ext map[string]interface{}
}

// Client returns the directory client for this request, created on first
// access with the resolved token and memoized for the request's lifetime.
func (c *Context) Client() *slack.Client {
	if c.client == nil {
		if c.clientFactory != nil {
			c.client = c.clientFactory(c.Token)
		} else {
			c.client = slack.New(c.Token)
		}
	}
	return c.client
}

// SetClient replaces the memoized client. The authorization layer calls this
// after resolving a token so downstream code talks with the right credential.
func (c *Context) SetClient(client *slack.Client) {
	c.client = client
}

// Set stashes a request-scoped value under key.
func (c *Context) Set(key string, value interface{}) {
	if c.ext == nil {
		c.ext = map[string]interface{}{}
	}
	c.ext[key] = value
}

// Get retrieves a value stashed by Set.
func (c *Context) Get(key string) (interface{}, bool) {
	v, ok := c.ext[key]
	return v, ok
}

// GetString retrieves a string value stashed by Set, or "".
func (c *Context) GetString(key string) string {
	s, _ := c.ext[key].(string)
	return s
}

// Matches returns the capture groups stored by the message-keyword
// middleware, or nil.
func (c *Context) Matches() []string {
	m, _ := c.ext["matches"].([]string)
	return m
}

// Copy produces a snapshot safe to hand to a deferred (lazy) function
// running on another goroutine. Live request-bound handles (the memoized
// client and the lazy runner back-reference) are dropped; the client is
// recreated from the token on first use in the copy. Extension values are
// copied by reference: a lazy function sees them, but replacing a key in the
// copy never touches the original.
func (c *Context) Copy() *Context {
	clone := *c
	clone.client = nil
	clone.runner = nil
	clone.ext = make(map[string]interface{}, len(c.ext))
	for key, value := range c.ext {
		clone.ext[key] = value
	}
	return &clone
}
