package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophsync/internal/common"
	"github.com/dmitrijs2005/gophsync/internal/rpc"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/repositories/users"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps service errors to gRPC statuses. Anything unexpected is
// logged and reported as an internal error without details.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrRefreshTokenExpired):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, common.ErrConflict):
		return status.Error(codes.FailedPrecondition, common.ErrConflict.Error())
	case errors.Is(err, common.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, users.ErrUsernameTaken):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	s.logger.Error(ctx, "internal error", "error", err)
	return status.Error(codes.Internal, "internal error")
}

func (s *GRPCServer) userID(ctx context.Context) (string, error) {
	id, ok := userIDFromContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing user")
	}
	return id, nil
}

func (s *GRPCServer) RegisterUser(ctx context.Context, req *rpc.RegisterUserRequest) (*rpc.RegisterUserResponse, error) {
	if req.Username == "" || len(req.Salt) == 0 || len(req.Verifier) == 0 {
		return nil, status.Error(codes.InvalidArgument, "username, salt and verifier are required")
	}

	result, err := s.users.Register(ctx, req.Username, req.Salt, req.Verifier)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	s.logger.Info(ctx, "Registered", "username", req.Username)
	return &rpc.RegisterUserResponse{UserID: result.ID}, nil
}

func (s *GRPCServer) GetSalt(ctx context.Context, req *rpc.GetSaltRequest) (*rpc.GetSaltResponse, error) {
	result, err := s.users.GetSalt(ctx, req.Username)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &rpc.GetSaltResponse{Salt: result}, nil
}

func (s *GRPCServer) Login(ctx context.Context, req *rpc.LoginRequest) (*rpc.LoginResponse, error) {
	tokens, err := s.users.Login(ctx, req.Username, req.VerifierCandidate)
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			return nil, status.Error(codes.Unauthenticated, "unauthorized")
		}
		return nil, s.toStatus(ctx, err)
	}
	return &rpc.LoginResponse{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}, nil
}

func (s *GRPCServer) RefreshToken(ctx context.Context, req *rpc.RefreshTokenRequest) (*rpc.RefreshTokenResponse, error) {
	tokens, err := s.users.RefreshToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &rpc.RefreshTokenResponse{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}, nil
}

func (s *GRPCServer) Ping(ctx context.Context, req *rpc.PingRequest) (*rpc.PingResponse, error) {
	return &rpc.PingResponse{Status: "OK"}, nil
}

func (s *GRPCServer) InfoCollections(ctx context.Context, req *rpc.InfoCollectionsRequest) (*rpc.InfoCollectionsResponse, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}
	info, err := s.storage.Info(ctx, userID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &rpc.InfoCollectionsResponse{Collections: info}, nil
}

func (s *GRPCServer) GetMetaGlobal(ctx context.Context, req *rpc.GetMetaGlobalRequest) (*rpc.GetMetaGlobalResponse, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}
	b, err := s.storage.GetMeta(ctx, userID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &rpc.GetMetaGlobalResponse{Payload: b.Payload, Modified: b.Modified}, nil
}

func (s *GRPCServer) PutMetaGlobal(ctx context.Context, req *rpc.PutMetaGlobalRequest) (*rpc.PutMetaGlobalResponse, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}
	modified, err := s.storage.PutMeta(ctx, userID, req.Payload)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &rpc.PutMetaGlobalResponse{Modified: modified}, nil
}

func (s *GRPCServer) FetchCollection(ctx context.Context, req *rpc.FetchCollectionRequest) (*rpc.FetchCollectionResponse, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}
	items, ts, err := s.storage.Fetch(ctx, userID, req.Collection, req.Since)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	resp := &rpc.FetchCollectionResponse{Records: make([]rpc.Record, 0, len(items)), Timestamp: ts}
	for _, b := range items {
		resp.Records = append(resp.Records, rpc.Record{ID: b.ID, Payload: b.Payload, Modified: b.Modified})
	}
	return resp, nil
}

func (s *GRPCServer) UploadCollection(ctx context.Context, req *rpc.UploadCollectionRequest) (*rpc.UploadCollectionResponse, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]models.BSO, 0, len(req.Records))
	for _, r := range req.Records {
		records = append(records, models.BSO{ID: r.ID, Payload: r.Payload})
	}

	res, err := s.storage.Upload(ctx, userID, req.Collection, req.IfUnmodifiedSince, records)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	if len(res.Failed) > 0 {
		s.logger.Warn(ctx, "records rejected", "collection", req.Collection, "count", len(res.Failed))
	}
	return &rpc.UploadCollectionResponse{Success: res.Success, Failed: res.Failed, Modified: res.Modified}, nil
}

func (s *GRPCServer) DeleteAll(ctx context.Context, req *rpc.DeleteAllRequest) (*rpc.DeleteAllResponse, error) {
	userID, err := s.userID(ctx)
	if err != nil {
		return nil, err
	}
	url, err := s.storage.DeleteAll(ctx, userID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	s.logger.Info(ctx, "user data deleted", "user_id", userID, "archived", url != "")
	return &rpc.DeleteAllResponse{ArchiveURL: url}, nil
}
