// Package envelope carries JSON documents over gRPC unary calls inside
// google.protobuf.BytesValue messages.
//
// Services describe their methods with Handle and register the resulting
// descriptor like any generated service; clients call Invoke with the full
// method name. Amounts are uint64 minor units, which a JSON number cannot
// always represent in a Struct, so the raw document is carried as bytes.
package envelope

import (
	"context"
	"encoding/json"
	"fmt"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Service accumulates method handlers for one service name.
type Service struct {
	name    string
	methods []gogrpc.MethodDesc
}

// NewService starts a service descriptor named like "ledger.v1.LedgerService".
func NewService(name string) *Service {
	return &Service{name: name}
}

// Name returns the fully-qualified service name.
func (s *Service) Name() string { return s.name }

// FullMethod returns the "/service/method" path for a method of this service.
func (s *Service) FullMethod(method string) string {
	return FullMethod(s.name, method)
}

// FullMethod returns the "/service/method" path used on the wire.
func FullMethod(service, method string) string {
	return "/" + service + "/" + method
}

// Desc returns the descriptor to pass to grpc.Server.RegisterService.
func (s *Service) Desc() *gogrpc.ServiceDesc {
	return &gogrpc.ServiceDesc{
		ServiceName: s.name,
		HandlerType: (*any)(nil),
		Methods:     append([]gogrpc.MethodDesc(nil), s.methods...),
		Metadata:    "envelope",
	}
}

// Register attaches the service to a gRPC server.
func (s *Service) Register(server *gogrpc.Server) {
	server.RegisterService(s.Desc(), struct{}{})
}

// Handle adds a typed unary method. Request bodies that fail to decode are
// rejected with InvalidArgument before fn runs.
func Handle[Req, Resp any](s *Service, method string, fn func(context.Context, Req) (Resp, error)) {
	fullMethod := s.FullMethod(method)
	s.methods = append(s.methods, gogrpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor gogrpc.UnaryServerInterceptor) (any, error) {
			in := new(wrapperspb.BytesValue)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, raw any) (any, error) {
				var req Req
				if err := Decode(raw.(*wrapperspb.BytesValue), &req); err != nil {
					return nil, status.Errorf(codes.InvalidArgument, "decode %s request: %v", method, err)
				}
				resp, err := fn(ctx, req)
				if err != nil {
					return nil, err
				}
				return Encode(resp)
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			return interceptor(ctx, in, &gogrpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, handler)
		},
	})
}

// Invoke calls a unary envelope method and decodes the response document.
func Invoke[Req, Resp any](ctx context.Context, cc gogrpc.ClientConnInterface, fullMethod string, req Req, opts ...gogrpc.CallOption) (Resp, error) {
	var resp Resp
	in, err := Encode(req)
	if err != nil {
		return resp, err
	}
	out := new(wrapperspb.BytesValue)
	if err := cc.Invoke(ctx, fullMethod, in, out, opts...); err != nil {
		return resp, err
	}
	if err := Decode(out, &resp); err != nil {
		return resp, fmt.Errorf("decode %s response: %w", fullMethod, err)
	}
	return resp, nil
}

// Encode marshals v as JSON into a BytesValue.
func Encode(v any) (*wrapperspb.BytesValue, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return wrapperspb.Bytes(raw), nil
}

// Decode unmarshals a BytesValue document into v. An empty document leaves v
// at its zero value.
func Decode(in *wrapperspb.BytesValue, v any) error {
	raw := in.GetValue()
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
