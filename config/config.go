// Package config loads the daemon configuration: defaults, then an optional
// YAML file, then CHATKIT_-prefixed environment variables, in that order.
package config

import (
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/chatkit-go/chatkit/utils"
)

// TransportMode selects how the daemon receives requests.
type TransportMode string

const (
	TransportHTTP   TransportMode = "http"
	TransportSocket TransportMode = "socket"
)

// Config is the full daemon configuration.
type Config struct {
	// Listen is the HTTP bind address.
	Listen string `yaml:"listen" envconfig:"LISTEN"`
	// Transport selects http callbacks or the socket transport.
	Transport TransportMode `yaml:"transport" envconfig:"TRANSPORT"`
	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" envconfig:"DEBUG"`

	// BotToken is the fixed single-workspace credential. Leave empty for
	// multi-workspace deployments backed by an installation store.
	BotToken string `yaml:"bot_token" envconfig:"BOT_TOKEN"`
	// AppToken authorizes the socket transport connection.
	AppToken string `yaml:"app_token" envconfig:"APP_TOKEN"`

	SigningSecret     string `yaml:"signing_secret" envconfig:"SIGNING_SECRET"`
	VerificationToken string `yaml:"verification_token" envconfig:"VERIFICATION_TOKEN"`

	// OAuth configures the multi-workspace install flow. ClientID set means
	// the flow is enabled.
	OAuth OAuthConfig `yaml:"oauth"`

	// StorePath is the SQLite database path for installations. Empty means
	// an in-memory store.
	StorePath string `yaml:"store_path" envconfig:"STORE_PATH"`

	// LazyWorkers bounds the deferred-listener pool. Zero means the default.
	LazyWorkers int `yaml:"lazy_workers" envconfig:"LAZY_WORKERS"`
	// TokenRotationExpiration is how close to expiry a token must be before
	// it is refreshed.
	TokenRotationExpiration time.Duration `yaml:"token_rotation_expiration" envconfig:"TOKEN_ROTATION_EXPIRATION"`
}

// OAuthConfig holds the grant-flow credentials and requested scopes.
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id" envconfig:"CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" envconfig:"CLIENT_SECRET"`
	Scopes       []string `yaml:"scopes" envconfig:"SCOPES"`
	UserScopes   []string `yaml:"user_scopes" envconfig:"USER_SCOPES"`
	RedirectURI  string   `yaml:"redirect_uri" envconfig:"REDIRECT_URI"`
	// StateSecret switches state validation to signed tokens, for
	// multi-instance deployments.
	StateSecret string `yaml:"state_secret" envconfig:"STATE_SECRET"`
}

// Enabled reports whether the install flow should be mounted.
func (o OAuthConfig) Enabled() bool {
	return o.ClientID != ""
}

func defaults() *Config {
	return &Config{
		Listen:    ":3000",
		Transport: TransportHTTP,
	}
}

// Load assembles the configuration. path may be empty to skip the file
// layer.
func Load(path string) (*Config, error) {
	c := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read the config file %s", path)
		}
		if err = yaml.Unmarshal(data, c); err != nil {
			return nil, errors.Wrapf(err, "failed to parse the config file %s", path)
		}
	}

	if err := envconfig.Process("chatkit", c); err != nil {
		return nil, errors.Wrap(err, "failed to process the environment")
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	switch c.Transport {
	case TransportHTTP, TransportSocket:
		// ok
	default:
		result = multierror.Append(result,
			utils.NewInvalidError("transport must be %q or %q, got %q", TransportHTTP, TransportSocket, c.Transport))
	}

	if c.Transport == TransportSocket && c.AppToken == "" {
		result = multierror.Append(result,
			utils.NewInvalidError("the socket transport requires app_token"))
	}
	if c.Transport == TransportSocket && c.BotToken == "" {
		result = multierror.Append(result,
			utils.NewInvalidError("the socket transport requires bot_token"))
	}

	if c.BotToken == "" && !c.OAuth.Enabled() {
		result = multierror.Append(result,
			utils.NewInvalidError("either bot_token or oauth.client_id is required"))
	}
	if c.BotToken != "" && c.OAuth.Enabled() {
		result = multierror.Append(result,
			utils.NewInvalidError("bot_token and oauth.client_id are mutually exclusive"))
	}
	if c.OAuth.Enabled() && c.OAuth.ClientSecret == "" {
		result = multierror.Append(result,
			utils.NewInvalidError("oauth.client_secret is required when oauth.client_id is set"))
	}

	return result.ErrorOrNil()
}
