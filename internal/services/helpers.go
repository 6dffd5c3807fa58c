package services

import "context"

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func strPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
