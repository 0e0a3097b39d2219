package dataapi_test

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rafaeljc/bifrost/internal/dataapi"
	"github.com/rafaeljc/bifrost/internal/decision"
)

const bufSize = 1024 * 1024

// startGRPC serves the decision service over an in-memory listener with
// the production interceptor chain.
func startGRPC(t *testing.T, d dataapi.Decider) *dataapi.DecisionClient {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	srv := grpc.NewServer(dataapi.ServerOptions(nil)...)
	dataapi.NewGRPCAPI(d, 0).Register(srv)

	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough://bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		srv.Stop()
	})
	return dataapi.NewDecisionClient(conn)
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestGRPCAPI_Decide(t *testing.T) {
	t.Parallel()

	t.Run("Should return the decision as a struct", func(t *testing.T) {
		t.Parallel()
		fake := &fakeDecider{result: grayDecision()}
		client := startGRPC(t, fake)

		resp, err := client.Decide(context.Background(), mustStruct(t, map[string]any{
			"user_id": "carol",
			"ip":      "10.0.0.5",
			"path":    "/a",
			"headers": map[string]any{"X-Env": "canary"},
			"cookies": map[string]any{"token": "v"},
		}))

		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"should_gray":     true,
			"target_version":  "gray",
			"target_upstream": "http://gray:8080",
			"matched_rule":    "A",
			"reason":          "Matched rule: A (ip)",
		}, resp.AsMap())

		got := fake.lastRequest()
		assert.Equal(t, "carol", got.UserID())
		assert.Equal(t, "10.0.0.5", got.IP())
		v, _ := got.Header("x-env")
		assert.Equal(t, "canary", v)
	})

	t.Run("Should encode absent fields as null", func(t *testing.T) {
		t.Parallel()
		client := startGRPC(t, &fakeDecider{result: decision.Default()})

		resp, err := client.Decide(context.Background(), &structpb.Struct{})

		require.NoError(t, err)
		m := resp.AsMap()
		assert.Equal(t, false, m["should_gray"])
		assert.Equal(t, "stable", m["target_version"])
		assert.Nil(t, m["target_upstream"])
		assert.Nil(t, m["matched_rule"])
	})

	t.Run("Should return the request id header", func(t *testing.T) {
		t.Parallel()
		client := startGRPC(t, &fakeDecider{result: decision.Default()})

		var header metadata.MD
		ctx := metadata.AppendToOutgoingContext(context.Background(), "x-request-id", "req-42")
		_, err := client.Decide(ctx, &structpb.Struct{}, grpc.Header(&header))

		require.NoError(t, err)
		assert.Equal(t, []string{"req-42"}, header.Get("x-request-id"))
	})
}

func TestGRPCAPI_Decide_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       map[string]any
		err      error
		panics   bool
		wantCode codes.Code
	}{
		{name: "wrong scalar type", in: map[string]any{"user_id": 7.0}, wantCode: codes.InvalidArgument},
		{name: "wrong map type", in: map[string]any{"headers": "x"}, wantCode: codes.InvalidArgument},
		{name: "non-string map value", in: map[string]any{"cookies": map[string]any{"a": true}}, wantCode: codes.InvalidArgument},
		{name: "store unavailable", err: decision.ErrStoreUnavailable, wantCode: codes.Unavailable},
		{name: "timeout", err: decision.ErrTimeout, wantCode: codes.DeadlineExceeded},
		{name: "unexpected", err: errors.New("weird"), wantCode: codes.Internal},
		{name: "panic", panics: true, wantCode: codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := startGRPC(t, &fakeDecider{err: tt.err, panics: tt.panics})

			in := &structpb.Struct{}
			if tt.in != nil {
				in = mustStruct(t, tt.in)
			}
			_, err := client.Decide(context.Background(), in)

			assert.Equal(t, tt.wantCode, status.Code(err))
		})
	}
}

func TestNewGRPCAPI_PanicsWithoutDecider(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { dataapi.NewGRPCAPI(nil, 0) })
}
