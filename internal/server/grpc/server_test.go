package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/rpc"
	"github.com/dmitrijs2005/gophsync/internal/server/auth"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := newTestServer("secret")
	srv.address = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on graceful stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	srv := newTestServer("secret")
	srv.address = "127.0.0.1:99999"

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := srv.Run(ctx); err == nil {
		t.Fatal("expected listen error")
	}
}

func dial(t *testing.T, s *GRPCServer) *rpc.StorageClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := s.newServer()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return rpc.NewStorageClient(conn)
}

func TestServer_RoundTrip(t *testing.T) {
	st := &fakeStorage{
		upload: &services.UploadResult{Success: []string{"a"}, Failed: map[string]string{}, Modified: 9},
		meta:   &models.BSO{Payload: `{"storageVersion":5}`, Modified: 1},
	}
	u := &fakeUser{loginResp: &services.TokenPair{AccessToken: "x", RefreshToken: "y"}}
	c := dial(t, NewGRPCServer("", logging.Nop{}, u, st, "secret"))
	ctx := context.Background()

	// public call without token
	login, err := c.Login(ctx, &rpc.LoginRequest{Username: "alice", VerifierCandidate: []byte("v")})
	require.NoError(t, err)
	assert.Equal(t, "x", login.AccessToken)

	// protected call without token
	_, err = c.InfoCollections(ctx, &rpc.InfoCollectionsRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	token, err := auth.GenerateToken("u1", []byte("secret"), time.Minute)
	require.NoError(t, err)
	actx := metadata.AppendToOutgoingContext(ctx, common.AccessTokenHeaderName, token)

	up, err := c.UploadCollection(actx, &rpc.UploadCollectionRequest{
		Collection: "logins",
		Records:    []rpc.Record{{ID: "a", Payload: "p"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), up.Modified)
	assert.Equal(t, "u1", st.userID)

	mg, err := c.GetMetaGlobal(actx, &rpc.GetMetaGlobalRequest{})
	require.NoError(t, err)
	assert.Equal(t, `{"storageVersion":5}`, mg.Payload)

	expired, err := auth.GenerateToken("u1", []byte("secret"), -time.Minute)
	require.NoError(t, err)
	ectx := metadata.AppendToOutgoingContext(ctx, common.AccessTokenHeaderName, expired)
	_, err = c.DeleteAll(ectx, &rpc.DeleteAllRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Equal(t, common.ErrTokenExpired.Error(), status.Convert(err).Message())
}
