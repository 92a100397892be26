package grpc

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/panyam/portalauth/client"
)

// Session is the part of client.Manager the interceptors use
type Session interface {
	TokenSource() oauth2.TokenSource
	RefreshSession(ctx context.Context) (client.Credentials, error)
}

var _ Session = (*client.Manager)(nil)

// UnaryClientInterceptor returns a unary interceptor that attaches the session's
// access token. A call failing with Unauthenticated is retried once after
// refreshing the session.
func UnaryClientInterceptor(session Session, config *Config) grpc.UnaryClientInterceptor {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()
	source := session.TokenSource()

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		access, err := currentToken(source, config, method)
		if err != nil {
			return err
		}
		if access == "" {
			return invoker(ctx, method, req, reply, cc, opts...)
		}

		err = invoker(BearerToOutgoingContextWithKey(ctx, access, config.MetadataKey), method, req, reply, cc, opts...)
		if status.Code(err) != codes.Unauthenticated {
			return err
		}

		creds, rerr := session.RefreshSession(ctx)
		if rerr != nil {
			// The server's answer is more useful than why the refresh failed
			return err
		}
		return invoker(BearerToOutgoingContextWithKey(ctx, creds.AccessToken, config.MetadataKey), method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor returns a stream interceptor that attaches the
// session's access token when the stream opens.
func StreamClientInterceptor(session Session, config *Config) grpc.StreamClientInterceptor {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()
	source := session.TokenSource()

	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		access, err := currentToken(source, config, method)
		if err != nil {
			return nil, err
		}
		if access != "" {
			ctx = BearerToOutgoingContextWithKey(ctx, access, config.MetadataKey)
		}
		return streamer(ctx, desc, cc, method, opts...)
	}
}

// DialOptions returns the dial options installing both interceptors.
func DialOptions(session Session, config *Config) []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithChainUnaryInterceptor(UnaryClientInterceptor(session, config)),
		grpc.WithChainStreamInterceptor(StreamClientInterceptor(session, config)),
	}
}

// currentToken returns "" when the call may go out without a credential.
func currentToken(source oauth2.TokenSource, config *Config, method string) (string, error) {
	tok, err := source.Token()
	if err == nil {
		return tok.AccessToken, nil
	}
	if errors.Is(err, client.ErrMissingAccessToken) && !config.requires(method) {
		return "", nil
	}
	return "", status.Error(codes.Unauthenticated, "authentication required")
}
