package client

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// handler is the shape of one licensing API call.
type handler func(ctx context.Context, log *zap.Logger, verb, endpointPath string, opts RequestOptions) (*Response, error)

// withCallLogging wraps next so each call is logged on entry, on return and
// on failure. Every line of a call shares one call_id.
func withCallLogging(next handler) handler {
	return func(ctx context.Context, log *zap.Logger, verb, endpointPath string, opts RequestOptions) (*Response, error) {
		name := strings.ToLower(verb)
		log = log.With(zap.String("call_id", uuid.NewString()), zap.String("verb", name))

		fields := []zap.Field{zap.String("path", endpointPath)}
		if len(opts.Params) > 0 {
			fields = append(fields, zap.Any("params", opts.Params))
		}
		if opts.Payload != nil {
			fields = append(fields, zap.Any("payload", opts.Payload))
		}
		if opts.File != "" {
			fields = append(fields, zap.String("file", opts.File))
		}
		log.Info("calling "+name, fields...)

		resp, err := next(ctx, log, verb, endpointPath, opts)
		if err != nil {
			log.Error(name+" failed",
				zap.Error(err),
				zap.String("source", errorSource(err)),
			)
			return nil, err
		}

		log.Info(name+" returned",
			zap.Int("status", resp.StatusCode),
			zap.Stringer("kind", resp.Kind),
			resultField(resp),
		)
		return resp, nil
	}
}

// resultField renders the decoded value; raw bytes are logged by size only.
func resultField(resp *Response) zap.Field {
	switch resp.Kind {
	case BodyText:
		return zap.String("result", resp.Text())
	case BodyJSON:
		return zap.Any("result", resp.Value)
	default:
		return zap.Int("result_bytes", len(resp.Body))
	}
}
