package envelope

import (
	"context"
	"errors"
	"net"
	"testing"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type echoRequest struct {
	Amount uint64 `json:"amount"`
	Memo   string `json:"memo"`
}

type echoResponse struct {
	Doubled uint64 `json:"doubled"`
	Memo    string `json:"memo"`
}

func TestEncodeDecodePreservesLargeAmounts(t *testing.T) {
	in := echoRequest{Amount: 18446744073709551615, Memo: "max"}
	env, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out echoRequest
	if err := Decode(env, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
}

func TestDecodeEmptyLeavesZero(t *testing.T) {
	var out echoRequest
	if err := Decode(wrapperspb.Bytes(nil), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != (echoRequest{}) {
		t.Fatalf("expected zero value, got %+v", out)
	}
}

func TestHandleAndInvokeOverServer(t *testing.T) {
	svc := NewService("test.v1.EchoService")
	Handle(svc, "Double", func(_ context.Context, req echoRequest) (echoResponse, error) {
		if req.Amount == 0 {
			return echoResponse{}, status.Error(codes.InvalidArgument, "amount is required")
		}
		return echoResponse{Doubled: req.Amount * 2, Memo: req.Memo}, nil
	})

	var intercepted string
	server := gogrpc.NewServer(gogrpc.UnaryInterceptor(func(ctx context.Context, req any, info *gogrpc.UnaryServerInfo, handler gogrpc.UnaryHandler) (any, error) {
		intercepted = info.FullMethod
		return handler(ctx, req)
	}))
	svc.Register(server)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := gogrpc.NewClient(lis.Addr().String(), gogrpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	resp, err := Invoke[echoRequest, echoResponse](context.Background(), conn, svc.FullMethod("Double"), echoRequest{Amount: 21, Memo: "hi"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if resp.Doubled != 42 || resp.Memo != "hi" {
		t.Fatalf("response = %+v", resp)
	}
	if intercepted != "/test.v1.EchoService/Double" {
		t.Fatalf("interceptor saw %q", intercepted)
	}

	_, err = Invoke[echoRequest, echoResponse](context.Background(), conn, svc.FullMethod("Double"), echoRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %v, want %v", status.Code(err), codes.InvalidArgument)
	}

	err = conn.Invoke(context.Background(), svc.FullMethod("Double"), wrapperspb.Bytes([]byte("{not json")), new(wrapperspb.BytesValue))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("malformed body code = %v, want %v", status.Code(err), codes.InvalidArgument)
	}
}

func TestInvokeReportsTransportErrors(t *testing.T) {
	cc := failingConn{err: status.Error(codes.Unavailable, "down")}
	_, err := Invoke[echoRequest, echoResponse](context.Background(), cc, "/x/y", echoRequest{Amount: 1})
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("code = %v, want Unavailable", status.Code(err))
	}
}

type failingConn struct{ err error }

func (f failingConn) Invoke(context.Context, string, any, any, ...gogrpc.CallOption) error {
	return f.err
}

func (f failingConn) NewStream(context.Context, *gogrpc.StreamDesc, string, ...gogrpc.CallOption) (gogrpc.ClientStream, error) {
	return nil, errors.New("streams are not supported")
}
