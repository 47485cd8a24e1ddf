package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "gophsync.storage.v1.StorageService"

// FullMethod returns the gRPC method path of a storage call.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Methods callable without an access token.
var PublicMethods = []string{
	FullMethod("RegisterUser"),
	FullMethod("GetSalt"),
	FullMethod("Login"),
	FullMethod("RefreshToken"),
	FullMethod("Ping"),
}

type StorageServer interface {
	RegisterUser(context.Context, *RegisterUserRequest) (*RegisterUserResponse, error)
	GetSalt(context.Context, *GetSaltRequest) (*GetSaltResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	RefreshToken(context.Context, *RefreshTokenRequest) (*RefreshTokenResponse, error)
	Ping(context.Context, *PingRequest) (*PingResponse, error)
	InfoCollections(context.Context, *InfoCollectionsRequest) (*InfoCollectionsResponse, error)
	GetMetaGlobal(context.Context, *GetMetaGlobalRequest) (*GetMetaGlobalResponse, error)
	PutMetaGlobal(context.Context, *PutMetaGlobalRequest) (*PutMetaGlobalResponse, error)
	FetchCollection(context.Context, *FetchCollectionRequest) (*FetchCollectionResponse, error)
	UploadCollection(context.Context, *UploadCollectionRequest) (*UploadCollectionResponse, error)
	DeleteAll(context.Context, *DeleteAllRequest) (*DeleteAllResponse, error)
}

func unary[Req, Resp any](name string, call func(StorageServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(StorageServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(StorageServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var StorageServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StorageServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("RegisterUser", StorageServer.RegisterUser),
		unary("GetSalt", StorageServer.GetSalt),
		unary("Login", StorageServer.Login),
		unary("RefreshToken", StorageServer.RefreshToken),
		unary("Ping", StorageServer.Ping),
		unary("InfoCollections", StorageServer.InfoCollections),
		unary("GetMetaGlobal", StorageServer.GetMetaGlobal),
		unary("PutMetaGlobal", StorageServer.PutMetaGlobal),
		unary("FetchCollection", StorageServer.FetchCollection),
		unary("UploadCollection", StorageServer.UploadCollection),
		unary("DeleteAll", StorageServer.DeleteAll),
	},
	Metadata: "gophsync/storage.v1",
}

func RegisterStorageServer(s grpc.ServiceRegistrar, srv StorageServer) {
	s.RegisterService(&StorageServiceDesc, srv)
}

// StorageClient calls the storage service over a gRPC connection using the
// JSON codec.
type StorageClient struct {
	cc grpc.ClientConnInterface
}

func NewStorageClient(cc grpc.ClientConnInterface) *StorageClient {
	return &StorageClient{cc: cc}
}

func invoke[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in *Req, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StorageClient) RegisterUser(ctx context.Context, in *RegisterUserRequest, opts ...grpc.CallOption) (*RegisterUserResponse, error) {
	return invoke[RegisterUserRequest, RegisterUserResponse](ctx, c.cc, "RegisterUser", in, opts)
}

func (c *StorageClient) GetSalt(ctx context.Context, in *GetSaltRequest, opts ...grpc.CallOption) (*GetSaltResponse, error) {
	return invoke[GetSaltRequest, GetSaltResponse](ctx, c.cc, "GetSalt", in, opts)
}

func (c *StorageClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginRequest, LoginResponse](ctx, c.cc, "Login", in, opts)
}

func (c *StorageClient) RefreshToken(ctx context.Context, in *RefreshTokenRequest, opts ...grpc.CallOption) (*RefreshTokenResponse, error) {
	return invoke[RefreshTokenRequest, RefreshTokenResponse](ctx, c.cc, "RefreshToken", in, opts)
}

func (c *StorageClient) Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error) {
	return invoke[PingRequest, PingResponse](ctx, c.cc, "Ping", in, opts)
}

func (c *StorageClient) InfoCollections(ctx context.Context, in *InfoCollectionsRequest, opts ...grpc.CallOption) (*InfoCollectionsResponse, error) {
	return invoke[InfoCollectionsRequest, InfoCollectionsResponse](ctx, c.cc, "InfoCollections", in, opts)
}

func (c *StorageClient) GetMetaGlobal(ctx context.Context, in *GetMetaGlobalRequest, opts ...grpc.CallOption) (*GetMetaGlobalResponse, error) {
	return invoke[GetMetaGlobalRequest, GetMetaGlobalResponse](ctx, c.cc, "GetMetaGlobal", in, opts)
}

func (c *StorageClient) PutMetaGlobal(ctx context.Context, in *PutMetaGlobalRequest, opts ...grpc.CallOption) (*PutMetaGlobalResponse, error) {
	return invoke[PutMetaGlobalRequest, PutMetaGlobalResponse](ctx, c.cc, "PutMetaGlobal", in, opts)
}

func (c *StorageClient) FetchCollection(ctx context.Context, in *FetchCollectionRequest, opts ...grpc.CallOption) (*FetchCollectionResponse, error) {
	return invoke[FetchCollectionRequest, FetchCollectionResponse](ctx, c.cc, "FetchCollection", in, opts)
}

func (c *StorageClient) UploadCollection(ctx context.Context, in *UploadCollectionRequest, opts ...grpc.CallOption) (*UploadCollectionResponse, error) {
	return invoke[UploadCollectionRequest, UploadCollectionResponse](ctx, c.cc, "UploadCollection", in, opts)
}

func (c *StorageClient) DeleteAll(ctx context.Context, in *DeleteAllRequest, opts ...grpc.CallOption) (*DeleteAllResponse, error) {
	return invoke[DeleteAllRequest, DeleteAllResponse](ctx, c.cc, "DeleteAll", in, opts)
}
