package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/temeva/pkg/client"
)

// verbFlags holds the per-call flags of one verb command.
type verbFlags struct {
	params  []string
	payload string
	file    string
}

var verbUsage = map[string]string{
	"get":    "Send a GET to an endpoint",
	"put":    "Send a PUT with a JSON payload",
	"post":   "Send a POST with a JSON payload and/or a file",
	"delete": "Send a DELETE to an endpoint",
}

func newVerbCmd(verb string) *cobra.Command {
	var f verbFlags
	cmd := &cobra.Command{
		Use:   verb + " <endpoint>",
		Short: verbUsage[verb],
		Long: fmt.Sprintf(`%s sends one %s request. The endpoint is relative to /api:
"lic/version", "/lic/version" and "/api/lic/version" are the same.

--payload takes JSON text, or @path to read it from a file.`, verb, strings.ToUpper(verb)),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.requestOptions()
			if err != nil {
				return err
			}

			c, flush, err := connect(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer flush()

			resp, err := c.Execute(cmd.Context(), verb, args[0], opts)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringArrayVar(&f.params, "param", nil, "query parameter as key=value (repeatable)")
	if verb == "put" || verb == "post" {
		cmd.Flags().StringVar(&f.payload, "payload", "", "JSON request body, or @file")
	}
	if verb == "post" {
		cmd.Flags().StringVar(&f.file, "file", "", "file to upload as multipart form data")
	}
	return cmd
}

func (f verbFlags) requestOptions() (client.RequestOptions, error) {
	params, err := parseParams(f.params)
	if err != nil {
		return client.RequestOptions{}, err
	}
	payload, err := parsePayload(f.payload)
	if err != nil {
		return client.RequestOptions{}, err
	}
	opts := client.RequestOptions{Params: params, File: f.file}
	if payload != nil {
		opts.Payload = payload
	}
	return opts, nil
}

// parseParams turns key=value pairs into query parameters. A repeated key
// collects its values in order.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: want key=value", p)
		}
		switch prev := params[key].(type) {
		case nil:
			params[key] = value
		case string:
			params[key] = []string{prev, value}
		case []string:
			params[key] = append(prev, value)
		}
	}
	return params, nil
}

// parsePayload validates JSON text (or @file contents) and returns it
// unchanged, or nil for an empty flag.
func parsePayload(s string) (json.RawMessage, error) {
	if s == "" {
		return nil, nil
	}
	raw := []byte(s)
	if strings.HasPrefix(s, "@") {
		b, err := os.ReadFile(strings.TrimPrefix(s, "@"))
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		raw = b
	}
	raw = bytes.TrimSpace(raw)
	if !json.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

// printResponse writes JSON indented, text verbatim and bytes raw.
func printResponse(w io.Writer, resp *client.Response) error {
	switch resp.Kind {
	case client.BodyJSON:
		if len(resp.Body) == 0 {
			return nil
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, resp.Body, "", "  "); err != nil {
			return fmt.Errorf("format response: %w", err)
		}
		buf.WriteByte('\n')
		_, err := buf.WriteTo(w)
		return err
	case client.BodyText:
		text := resp.Text()
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		_, err := io.WriteString(w, text)
		return err
	default:
		_, err := w.Write(resp.Body)
		return err
	}
}
