// Package grpc exposes the account and storage services over gRPC.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/gophsync/internal/logging"
	"github.com/dmitrijs2005/gophsync/internal/rpc"
	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/services"
	"google.golang.org/grpc"
)

type UserService interface {
	Register(ctx context.Context, username string, salt, verifier []byte) (*models.User, error)
	GetSalt(ctx context.Context, username string) ([]byte, error)
	Login(ctx context.Context, username string, verifierCandidate []byte) (*services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
}

type StorageService interface {
	Info(ctx context.Context, userID string) (map[string]int64, error)
	GetMeta(ctx context.Context, userID string) (*models.BSO, error)
	PutMeta(ctx context.Context, userID, payload string) (int64, error)
	Fetch(ctx context.Context, userID, collection string, since int64) ([]models.BSO, int64, error)
	Upload(ctx context.Context, userID, collection string, ifUnmodifiedSince int64, records []models.BSO) (*services.UploadResult, error)
	DeleteAll(ctx context.Context, userID string) (string, error)
}

type GRPCServer struct {
	address   string
	users     UserService
	storage   StorageService
	logger    logging.Logger
	jwtSecret []byte
}

var _ rpc.StorageServer = (*GRPCServer)(nil)

func NewGRPCServer(a string, l logging.Logger, us UserService, ss StorageService, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		users:     us,
		storage:   ss,
		jwtSecret: []byte(secretKey),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor))
	rpc.RegisterStorageServer(srv, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
