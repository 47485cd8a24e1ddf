// Package transport talks to the remote storage service over gRPC. It
// implements syncer.Transport and the account calls used by the auth
// service.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dmitrijs2005/gophsync/internal/client/models"
	"github.com/dmitrijs2005/gophsync/internal/client/syncer"
	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// storageAPI is the subset of rpc.StorageClient the transport uses.
type storageAPI interface {
	RegisterUser(ctx context.Context, in *rpc.RegisterUserRequest, opts ...grpc.CallOption) (*rpc.RegisterUserResponse, error)
	GetSalt(ctx context.Context, in *rpc.GetSaltRequest, opts ...grpc.CallOption) (*rpc.GetSaltResponse, error)
	Login(ctx context.Context, in *rpc.LoginRequest, opts ...grpc.CallOption) (*rpc.LoginResponse, error)
	RefreshToken(ctx context.Context, in *rpc.RefreshTokenRequest, opts ...grpc.CallOption) (*rpc.RefreshTokenResponse, error)
	Ping(ctx context.Context, in *rpc.PingRequest, opts ...grpc.CallOption) (*rpc.PingResponse, error)
	InfoCollections(ctx context.Context, in *rpc.InfoCollectionsRequest, opts ...grpc.CallOption) (*rpc.InfoCollectionsResponse, error)
	GetMetaGlobal(ctx context.Context, in *rpc.GetMetaGlobalRequest, opts ...grpc.CallOption) (*rpc.GetMetaGlobalResponse, error)
	PutMetaGlobal(ctx context.Context, in *rpc.PutMetaGlobalRequest, opts ...grpc.CallOption) (*rpc.PutMetaGlobalResponse, error)
	FetchCollection(ctx context.Context, in *rpc.FetchCollectionRequest, opts ...grpc.CallOption) (*rpc.FetchCollectionResponse, error)
	UploadCollection(ctx context.Context, in *rpc.UploadCollectionRequest, opts ...grpc.CallOption) (*rpc.UploadCollectionResponse, error)
	DeleteAll(ctx context.Context, in *rpc.DeleteAllRequest, opts ...grpc.CallOption) (*rpc.DeleteAllResponse, error)
}

// Tokens is what a successful login or refresh returns.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

type Options struct {
	// Timeout bounds each attempt of a call.
	Timeout time.Duration
	// MaxRetries is the number of extra attempts after an unavailable
	// server.
	MaxRetries uint64
}

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      storageAPI
	opts        Options
	newBackOff  func() backoff.BackOff
}

var _ syncer.Transport = (*GRPCClient)(nil)

func NewGRPCClient(endpointURL string, opts Options) (*GRPCClient, error) {
	conn, err := grpc.NewClient(endpointURL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client: %w", err)
	}
	c := newClient(rpc.NewStorageClient(conn), opts)
	c.endpointURL = endpointURL
	c.conn = conn
	return c, nil
}

func newClient(api storageAPI, opts Options) *GRPCClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &GRPCClient{
		client: api,
		opts:   opts,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

// call runs one RPC with a per-attempt timeout, retrying while the server
// is unavailable.
func call[T any](ctx context.Context, c *GRPCClient, fn func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.opts.MaxRetries), ctx)
	return backoff.RetryWithData(func() (T, error) {
		actx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()

		v, err := fn(actx)
		if err == nil {
			return v, nil
		}
		err = mapError(err)
		if !errors.Is(err, common.ErrUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, b)
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		if st.Message() == common.ErrTokenExpired.Error() {
			return common.ErrTokenExpired
		}
		return common.ErrorUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", common.ErrUnavailable, st.Message())
	case codes.FailedPrecondition:
		return common.ErrConflict
	case codes.NotFound:
		return common.ErrorNotFound
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %s", common.ErrValidation, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}

func (c *GRPCClient) Register(ctx context.Context, username string, salt, verifier []byte) error {
	_, err := call(ctx, c, func(ctx context.Context) (*rpc.RegisterUserResponse, error) {
		return c.client.RegisterUser(ctx, &rpc.RegisterUserRequest{Username: username, Salt: salt, Verifier: verifier})
	})
	return err
}

func (c *GRPCClient) GetSalt(ctx context.Context, username string) ([]byte, error) {
	resp, err := call(ctx, c, func(ctx context.Context) (*rpc.GetSaltResponse, error) {
		return c.client.GetSalt(ctx, &rpc.GetSaltRequest{Username: username})
	})
	if err != nil {
		return nil, err
	}
	return resp.Salt, nil
}

func (c *GRPCClient) Login(ctx context.Context, username string, verifier []byte) (*Tokens, error) {
	resp, err := call(ctx, c, func(ctx context.Context) (*rpc.LoginResponse, error) {
		return c.client.Login(ctx, &rpc.LoginRequest{Username: username, VerifierCandidate: verifier})
	})
	if err != nil {
		return nil, err
	}
	return &Tokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

func (c *GRPCClient) RefreshToken(ctx context.Context, refreshToken string) (*Tokens, error) {
	resp, err := call(ctx, c, func(ctx context.Context) (*rpc.RefreshTokenResponse, error) {
		return c.client.RefreshToken(ctx, &rpc.RefreshTokenRequest{RefreshToken: refreshToken})
	})
	if err != nil {
		return nil, err
	}
	return &Tokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

func (c *GRPCClient) Ping(ctx context.Context) error {
	resp, err := call(ctx, c, func(ctx context.Context) (*rpc.PingResponse, error) {
		return c.client.Ping(ctx, &rpc.PingRequest{})
	})
	if err != nil {
		return err
	}
	if resp.Status != "OK" {
		return common.ErrUnavailable
	}
	return nil
}

// DeleteAll wipes the account's records on the server and returns the
// archive download link, if the server keeps one.
func (c *GRPCClient) DeleteAll(ctx context.Context, accessToken string) (string, error) {
	ctx = withAccessToken(ctx, accessToken)
	resp, err := call(ctx, c, func(ctx context.Context) (*rpc.DeleteAllResponse, error) {
		return c.client.DeleteAll(ctx, &rpc.DeleteAllRequest{})
	})
	if err != nil {
		return "", err
	}
	return resp.ArchiveURL, nil
}

func (c *GRPCClient) InfoCollections(ctx context.Context, cred *syncer.Credentials) (map[string]int64, error) {
	ctx = withAccessToken(ctx, cred.Token)
	resp, err := call(ctx, c, func(ctx context.Context) (*rpc.InfoCollectionsResponse, error) {
		return c.client.InfoCollections(ctx, &rpc.InfoCollectionsRequest{})
	})
	if err != nil {
		return nil, err
	}
	if resp.Collections == nil {
		return map[string]int64{}, nil
	}
	return resp.Collections, nil
}

func (c *GRPCClient) MetaGlobal(ctx context.Context, cred *syncer.Credentials) (*syncer.MetaGlobal, error) {
	ctx = withAccessToken(ctx, cred.Token)
	resp, err := call(ctx, c, func(ctx context.Context) (*rpc.GetMetaGlobalResponse, error) {
		return c.client.GetMetaGlobal(ctx, &rpc.GetMetaGlobalRequest{})
	})
	if err != nil {
		return nil, err
	}
	mg := &syncer.MetaGlobal{}
	if err := json.Unmarshal([]byte(resp.Payload), mg); err != nil {
		return nil, fmt.Errorf("malformed meta/global: %w", err)
	}
	return mg, nil
}

func (c *GRPCClient) PutMetaGlobal(ctx context.Context, cred *syncer.Credentials, mg *syncer.MetaGlobal) error {
	raw, err := json.Marshal(mg)
	if err != nil {
		return err
	}
	ctx = withAccessToken(ctx, cred.Token)
	_, err = call(ctx, c, func(ctx context.Context) (*rpc.PutMetaGlobalResponse, error) {
		return c.client.PutMetaGlobal(ctx, &rpc.PutMetaGlobalRequest{Payload: string(raw)})
	})
	return err
}

func (c *GRPCClient) Fetch(ctx context.Context, cred *syncer.Credentials, collection string, since int64) (*syncer.FetchResult, error) {
	ctx = withAccessToken(ctx, cred.Token)
	resp, err := call(ctx, c, func(ctx context.Context) (*rpc.FetchCollectionResponse, error) {
		return c.client.FetchCollection(ctx, &rpc.FetchCollectionRequest{Collection: collection, Since: since})
	})
	if err != nil {
		return nil, err
	}

	res := &syncer.FetchResult{Timestamp: resp.Timestamp, Records: make([]models.BSO, 0, len(resp.Records))}
	for _, r := range resp.Records {
		res.Records = append(res.Records, models.BSO{ID: r.ID, Payload: r.Payload, Modified: r.Modified})
	}
	return res, nil
}

func (c *GRPCClient) Upload(ctx context.Context, cred *syncer.Credentials, collection string, ifUnmodifiedSince int64, records []models.BSO) (*syncer.UploadResult, error) {
	req := &rpc.UploadCollectionRequest{
		Collection:        collection,
		IfUnmodifiedSince: ifUnmodifiedSince,
		Records:           make([]rpc.Record, 0, len(records)),
	}
	for _, b := range records {
		req.Records = append(req.Records, rpc.Record{ID: b.ID, Payload: b.Payload})
	}

	ctx = withAccessToken(ctx, cred.Token)
	resp, err := call(ctx, c, func(ctx context.Context) (*rpc.UploadCollectionResponse, error) {
		return c.client.UploadCollection(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	rejected := resp.Failed
	if rejected == nil {
		rejected = map[string]string{}
	}
	return &syncer.UploadResult{Accepted: resp.Success, Rejected: rejected, Timestamp: resp.Modified}, nil
}
