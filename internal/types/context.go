package types

import "context"

type (
	requestIDKey  struct{}
	clientNameKey struct{}
)

// WithRequestID tags ctx with the id of the HTTP request or, in the delivery
// worker, the trace id carried on the queue message.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithClientName records which API key holder issued the request.
func WithClientName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, clientNameKey{}, name)
}

func GetClientName(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(clientNameKey{}).(string)
	return name, ok && name != ""
}

// LogAttrs returns the request-scoped key/value pairs present on ctx, ready
// to pass to a logger.
func LogAttrs(ctx context.Context) []any {
	var attrs []any
	if id := GetRequestID(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	if name, ok := GetClientName(ctx); ok {
		attrs = append(attrs, "client", name)
	}
	return attrs
}
