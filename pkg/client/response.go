package client

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// BodyKind says how a response body was decoded.
type BodyKind int

const (
	// BodyBytes is an undecoded body; Value is a []byte.
	BodyBytes BodyKind = iota
	// BodyText is a textual body; Value is a string.
	BodyText
	// BodyJSON is a JSON body; Value is the decoded value.
	BodyJSON
)

func (k BodyKind) String() string {
	switch k {
	case BodyText:
		return "text"
	case BodyJSON:
		return "json"
	default:
		return "bytes"
	}
}

// Response is a successful reply from the licensing service.
type Response struct {
	StatusCode  int
	ContentType string
	Kind        BodyKind

	// Body is the raw response body, whatever its kind.
	Body []byte

	// Value is a string for BodyText, the json.Unmarshal result (map[string]any,
	// []any, ...) for BodyJSON, and Body itself for BodyBytes.
	Value any
}

// decodeResponse picks the body representation from the declared content type.
// "text" is checked before "application/json", so "text/json" stays text.
func decodeResponse(status int, contentType string, body []byte) (*Response, error) {
	r := &Response{StatusCode: status, ContentType: contentType, Body: body}
	switch {
	case strings.Contains(contentType, "text"):
		r.Kind = BodyText
		r.Value = string(body)
	case strings.Contains(contentType, "application/json"):
		r.Kind = BodyJSON
		if len(body) == 0 {
			return r, nil
		}
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("decode JSON response: %w", err)
		}
		r.Value = v
	default:
		r.Kind = BodyBytes
		r.Value = body
	}
	return r, nil
}

// Text returns the body as a string regardless of kind.
func (r *Response) Text() string { return string(r.Body) }

// Decode unmarshals a JSON body into v.
func (r *Response) Decode(v any) error {
	if r.Kind != BodyJSON {
		return fmt.Errorf("response is %s, not json", r.Kind)
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Map returns the decoded JSON object, or nil when the body is not an object.
func (r *Response) Map() map[string]any {
	m, _ := r.Value.(map[string]any)
	return m
}

// readBody reads all of r, failing with ErrBodyTooLarge rather than returning
// a truncated body when r holds more than limit bytes.
func readBody(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	return body, nil
}
