// Package context carries request metadata from the HTTP middleware to the
// handlers, the pipeline logs and the error responses.
package context

import "context"

type requestKey struct{}

// Request is recorded once per HTTP call.
type Request struct {
	ID       string
	Method   string
	Route    string
	RemoteIP string
}

func WithRequest(ctx context.Context, req Request) context.Context {
	return context.WithValue(ctx, requestKey{}, req)
}

func RequestFrom(ctx context.Context) (Request, bool) {
	req, ok := ctx.Value(requestKey{}).(Request)
	return req, ok
}

func GetRequestID(ctx context.Context) string {
	req, _ := RequestFrom(ctx)
	return req.ID
}

// Fields returns the request metadata as log fields. CLI calls carry none.
func Fields(ctx context.Context) map[string]any {
	req, ok := RequestFrom(ctx)
	if !ok {
		return map[string]any{}
	}
	return map[string]any{
		"request_id": req.ID,
		"method":     req.Method,
		"route":      req.Route,
		"remote_ip":  req.RemoteIP,
	}
}
