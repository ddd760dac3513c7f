package chatkit

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// Response is the mutable accumulator for the wire-ready reply. It starts as
// the "unhandled" 404 sentinel and is replaced once a listener (or a
// middleware) acknowledges the request.
type Response struct {
	StatusCode int
	Headers    map[string][]string

	body string
}

// NewResponse builds a response with the given status and body. The body may
// be a string, or any JSON-serializable value.
func NewResponse(status int, body interface{}) *Response {
	r := &Response{
		StatusCode: status,
		Headers:    map[string][]string{},
	}
	_ = r.SetBody(body)
	return r
}

// newUnhandledResponse is the sentinel every dispatch starts from.
func newUnhandledResponse() *Response {
	return NewResponse(http.StatusNotFound, map[string]interface{}{"error": "unhandled request"})
}

// SetBody replaces the body. Strings pass through as-is; any other value is
// serialized to a JSON string.
func (r *Response) SetBody(body interface{}) error {
	switch v := body.(type) {
	case nil:
		r.body = ""
	case string:
		r.body = v
	case []byte:
		r.body = string(v)
	default:
		bb, err := json.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "failed to serialize response body")
		}
		r.body = string(bb)
	}
	return nil
}

// Set replaces both status and body in one call.
func (r *Response) Set(status int, body interface{}) error {
	r.StatusCode = status
	return r.SetBody(body)
}

func (r *Response) Body() string {
	return r.body
}

// ContentType returns the explicit content-type header if one was set, else
// JSON when the body looks like a JSON object, else plain text.
func (r *Response) ContentType() string {
	if vv := r.Headers["content-type"]; len(vv) > 0 {
		return vv[0]
	}
	if strings.HasPrefix(r.body, "{") {
		return "application/json;charset=utf-8"
	}
	return "text/plain;charset=utf-8"
}

// SetHeader replaces a header. Names are normalized to lower case.
func (r *Response) SetHeader(name, value string) {
	if r.Headers == nil {
		r.Headers = map[string][]string{}
	}
	r.Headers[strings.ToLower(name)] = []string{value}
}

// AddHeader appends a header value. Names are normalized to lower case.
func (r *Response) AddHeader(name, value string) {
	if r.Headers == nil {
		r.Headers = map[string][]string{}
	}
	key := strings.ToLower(name)
	r.Headers[key] = append(r.Headers[key], value)
}
