// Package grpc attaches the portal session's bearer credential to outgoing
// gRPC calls and reads it back on the serving side.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"
)

// DefaultMetadataKey is the gRPC metadata key carrying the credential
const DefaultMetadataKey = "authorization"

// Config holds the metadata key configuration.
type Config struct {
	// MetadataKey is the outgoing metadata key. Defaults to "authorization".
	MetadataKey string

	// RequireAuth when true fails calls locally if no credential is available.
	// When false, such calls go out without one.
	RequireAuth bool

	// PublicMethods never require a credential.
	// Keys are full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// DefaultConfig returns a config that sends credentials when available
// and never requires them.
func DefaultConfig() *Config {
	return &Config{
		MetadataKey:   DefaultMetadataKey,
		PublicMethods: make(map[string]bool),
	}
}

// RequireAuthConfig returns a config that requires a credential for every
// method except publicMethods.
func RequireAuthConfig(publicMethods ...string) *Config {
	config := DefaultConfig()
	config.RequireAuth = true
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKey == "" {
		c.MetadataKey = DefaultMetadataKey
	}
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
}

func (c *Config) requires(method string) bool {
	return c.RequireAuth && !c.PublicMethods[method]
}

// BearerToOutgoingContext sets the bearer credential on outgoing metadata,
// replacing any credential already there.
func BearerToOutgoingContext(ctx context.Context, accessToken string) context.Context {
	return BearerToOutgoingContextWithKey(ctx, accessToken, DefaultMetadataKey)
}

// BearerToOutgoingContextWithKey is BearerToOutgoingContext with a custom key.
func BearerToOutgoingContextWithKey(ctx context.Context, accessToken, key string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md.Set(key, "Bearer "+accessToken)
	return metadata.NewOutgoingContext(ctx, md)
}

// BearerFromIncomingContext returns the bearer credential of an incoming call.
// Returns empty string if there is none.
func BearerFromIncomingContext(ctx context.Context) string {
	return BearerFromIncomingContextWithKey(ctx, DefaultMetadataKey)
}

// BearerFromIncomingContextWithKey is BearerFromIncomingContext with a custom key.
func BearerFromIncomingContextWithKey(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(key) {
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			return v[7:]
		}
	}
	return ""
}
