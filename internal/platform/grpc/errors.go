package grpc

import (
	"context"
	"strings"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// LocaleHeader carries the caller's preferred locale for error messages.
const LocaleHeader = "accept-language"

// UnaryErrorServerInterceptor converts domain errors returned by handlers
// into gRPC statuses with localized details.
func UnaryErrorServerInterceptor() gogrpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *gogrpc.UnaryServerInfo, handler gogrpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			return nil, apperrors.HandleError(err, localeFromContext(ctx))
		}
		return resp, nil
	}
}

// UnaryErrorClientInterceptor decodes statuses back into domain errors so
// callers can switch on error codes instead of message text.
func UnaryErrorClientInterceptor() gogrpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *gogrpc.ClientConn, invoker gogrpc.UnaryInvoker, opts ...gogrpc.CallOption) error {
		return apperrors.FromGRPCStatus(invoker(ctx, method, req, reply, cc, opts...))
	}
}

// WithLocale attaches a preferred locale to outgoing calls.
func WithLocale(ctx context.Context, locale string) context.Context {
	if strings.TrimSpace(locale) == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, LocaleHeader, locale)
}

func localeFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(LocaleHeader)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
