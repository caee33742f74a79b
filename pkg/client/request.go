package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// fileFieldName is the multipart field the licensing service expects uploads
// under.
const fileFieldName = "mapFileFormFile"

// RequestOptions carries the optional parts of a call. The zero value sends a
// bare request.
type RequestOptions struct {
	// Params are sent as the query string on every verb, not only GET.
	Params map[string]any

	// Payload is JSON-encoded into the request body (PUT and POST only).
	Payload any

	// File is a local path attached as multipart form data (POST only).
	File string
}

// NormalizePath makes endpointPath absolute and rooted under /api.
//
//	"lic/version"     -> "/api/lic/version"
//	"/lic/version"    -> "/api/lic/version"
//	"/api/lic/version" unchanged
func NormalizePath(endpointPath string) string {
	if !strings.HasPrefix(endpointPath, "/") {
		endpointPath = "/" + endpointPath
	}
	if !strings.HasPrefix(endpointPath, "/api") {
		endpointPath = "/api" + endpointPath
	}
	return endpointPath
}

// encodeQuery renders params as a query string. In JSON mode the whole map is
// marshalled and escaped as one opaque query, matching what older deployments
// of the service accept.
func encodeQuery(params map[string]any, asJSON bool) (string, error) {
	if len(params) == 0 {
		return "", nil
	}
	if asJSON {
		b, err := json.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("marshal query params: %w", err)
		}
		return url.PathEscape(string(b)), nil
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		switch v := params[k].(type) {
		case []string:
			for _, s := range v {
				values.Add(k, s)
			}
		case []any:
			for _, s := range v {
				values.Add(k, fmt.Sprint(s))
			}
		case nil:
			values.Add(k, "")
		default:
			values.Add(k, fmt.Sprint(v))
		}
	}
	return values.Encode(), nil
}

// encodePayload returns the JSON body for payload, or nil when there is none.
func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}

// encodeMultipart builds a multipart body holding the file under
// fileFieldName and, when present, the JSON payload under "data".
func encodeMultipart(path string, payload []byte) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if payload != nil {
		if err := w.WriteField("data", string(payload)); err != nil {
			return nil, "", fmt.Errorf("write data field: %w", err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`,
		fileFieldName, filepath.Base(path)))
	h.Set("Content-Type", "application/json")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy upload file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// verbMethod maps a case-insensitive verb to its HTTP method.
func verbMethod(verb string) (string, error) {
	switch strings.ToLower(verb) {
	case "get":
		return http.MethodGet, nil
	case "put":
		return http.MethodPut, nil
	case "post":
		return http.MethodPost, nil
	case "delete":
		return http.MethodDelete, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedVerb, verb)
	}
}
