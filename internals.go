package chatkit

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/chatkit-go/chatkit/payload"
	"github.com/chatkit-go/chatkit/utils"
)

// normalizeQuery accepts the query parameter shapes different transports hand
// in and always produces a multi-valued map.
func normalizeQuery(query interface{}) (map[string][]string, error) {
	switch q := query.(type) {
	case nil:
		return map[string][]string{}, nil

	case string:
		values, err := url.ParseQuery(q)
		if err != nil {
			// best-effort: an unparsable query string is an empty one
			return map[string][]string{}, nil
		}
		return values, nil

	case url.Values:
		return cloneMultiMap(q, false), nil

	case map[string][]string:
		return cloneMultiMap(q, false), nil

	case map[string]string:
		out := make(map[string][]string, len(q))
		for name, value := range q {
			out[name] = []string{value}
		}
		return out, nil

	default:
		return nil, utils.NewInvalidError("unsupported query type %T", query)
	}
}

// normalizeHeaders accepts the header shapes different transports hand in and
// always produces a multi-valued map with lower-cased names.
func normalizeHeaders(headers interface{}) (map[string][]string, error) {
	switch h := headers.(type) {
	case nil:
		return map[string][]string{}, nil

	case http.Header:
		return cloneMultiMap(h, true), nil

	case map[string][]string:
		return cloneMultiMap(h, true), nil

	case map[string]string:
		out := make(map[string][]string, len(h))
		for name, value := range h {
			out[strings.ToLower(name)] = []string{value}
		}
		return out, nil

	default:
		return nil, utils.NewInvalidError("unsupported headers type %T", headers)
	}
}

func cloneMultiMap(in map[string][]string, lowercaseKeys bool) map[string][]string {
	out := make(map[string][]string, len(in))
	for name, values := range in {
		if lowercaseKeys {
			name = strings.ToLower(name)
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

func extractContentType(headers map[string][]string) string {
	values := headers["content-type"]
	if len(values) == 0 || values[0] == "" {
		return ""
	}
	return strings.TrimSpace(strings.Split(values[0], ";")[0])
}

// parseBody decodes the raw body into a payload map. JSON bodies decode
// directly; form-encoded bodies either carry the JSON document in a
// "payload" field (interactive payloads) or are flattened key/value pairs
// (slash commands). Decode failures yield an empty payload.
func parseBody(body, contentType string) payload.Body {
	if body == "" {
		return payload.Body{}
	}

	if contentType == "application/json" || strings.HasPrefix(body, "{") {
		parsed := payload.Body{}
		if err := json.Unmarshal([]byte(body), &parsed); err != nil {
			return payload.Body{}
		}
		return parsed
	}

	values, err := url.ParseQuery(body)
	if err != nil {
		return payload.Body{}
	}
	if doc := values.Get("payload"); doc != "" {
		parsed := payload.Body{}
		if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
			return payload.Body{}
		}
		return parsed
	}
	parsed := make(payload.Body, len(values))
	for name := range values {
		parsed[name] = values.Get(name)
	}
	return parsed
}

// -----------------------------------------------------------------------
// identity extraction
//
// Different payload kinds nest the enterprise/team/user/channel identity
// fields differently, so these are recursive best-effort searches. The
// authorizations[0] entry is preferred where present so that events arriving
// via shared channels resolve to the receiving workspace.
// -----------------------------------------------------------------------

func firstAuthorization(body payload.Body) payload.Body {
	auths, ok := body["authorizations"].([]interface{})
	if !ok || len(auths) == 0 {
		return nil
	}
	first, _ := auths[0].(map[string]interface{})
	return first
}

func extractIsEnterpriseInstall(body payload.Body) bool {
	if auth := firstAuthorization(body); auth != nil {
		return extractIsEnterpriseInstall(auth)
	}
	switch v := body["is_enterprise_install"].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

func extractEnterpriseID(body payload.Body) string {
	if body == nil {
		return ""
	}
	switch org := body["enterprise"].(type) {
	case string:
		return org
	case map[string]interface{}:
		if id, ok := org["id"].(string); ok {
			return id
		}
	}
	if auth := firstAuthorization(body); auth != nil {
		return extractEnterpriseID(auth)
	}
	if id, ok := body["enterprise_id"].(string); ok {
		return id
	}
	// view payloads put the enterprise under team
	if team := payload.SubMap(body, "team"); team != nil {
		if id, ok := team["enterprise_id"].(string); ok {
			return id
		}
	}
	if event := payload.SubMap(body, "event"); event != nil {
		return extractEnterpriseID(event)
	}
	return ""
}

func extractTeamID(body payload.Body) string {
	if body == nil {
		return ""
	}
	switch team := body["team"].(type) {
	case string:
		return team
	case map[string]interface{}:
		if id, ok := team["id"].(string); ok {
			return id
		}
	}
	if auth := firstAuthorization(body); auth != nil {
		return extractTeamID(auth)
	}
	if id, ok := body["team_id"].(string); ok {
		return id
	}
	if event := payload.SubMap(body, "event"); event != nil {
		return extractTeamID(event)
	}
	// org-wide installs can null out payload.team in interactivity payloads
	if user := payload.SubMap(body, "user"); user != nil {
		if id, ok := user["team_id"].(string); ok {
			return id
		}
	}
	if view := payload.SubMap(body, "view"); view != nil {
		if id, ok := view["team_id"].(string); ok {
			return id
		}
	}
	return ""
}

func extractUserID(body payload.Body) string {
	if body == nil {
		return ""
	}
	switch user := body["user"].(type) {
	case string:
		return user
	case map[string]interface{}:
		if id, ok := user["id"].(string); ok {
			return id
		}
	}
	if id, ok := body["user_id"].(string); ok {
		return id
	}
	if event := payload.SubMap(body, "event"); event != nil {
		return extractUserID(event)
	}
	return ""
}

func extractChannelID(body payload.Body) string {
	if body == nil {
		return ""
	}
	switch channel := body["channel"].(type) {
	case string:
		return channel
	case map[string]interface{}:
		if id, ok := channel["id"].(string); ok {
			return id
		}
	}
	if id, ok := body["channel_id"].(string); ok {
		return id
	}
	if event := payload.SubMap(body, "event"); event != nil {
		return extractChannelID(event)
	}
	// reaction events carry the channel under event.item
	if item := payload.SubMap(body, "item"); item != nil {
		return extractChannelID(item)
	}
	return ""
}

func extractResponseURL(body payload.Body) string {
	if url, ok := body["response_url"].(string); ok {
		return url
	}
	// response_url_enabled modals deliver a response_urls array instead
	if urls, ok := body["response_urls"].([]interface{}); ok && len(urls) > 0 {
		if first, ok := urls[0].(map[string]interface{}); ok {
			if url, ok := first["response_url"].(string); ok {
				return url
			}
		}
	}
	return ""
}

// buildContext seeds a fresh context from the identity fields in the parsed
// body.
func buildContext(body payload.Body) *Context {
	return &Context{
		EnterpriseID:        extractEnterpriseID(body),
		TeamID:              extractTeamID(body),
		UserID:              extractUserID(body),
		ChannelID:           extractChannelID(body),
		ResponseURL:         extractResponseURL(body),
		IsEnterpriseInstall: extractIsEnterpriseInstall(body),
		Logger:              utils.NilLogger(),
		ext:                 map[string]interface{}{},
	}
}
