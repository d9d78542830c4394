package grpc

import (
	"context"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/Gopher0727/ChatEngine/middleware/jwt"
	logger "github.com/Gopher0727/ChatEngine/middleware/log"
)

type userIDKey struct{}

// WithUserID 把已认证的调用者写入上下文
func WithUserID(ctx context.Context, userID uint) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserID 读取认证拦截器写入的调用者，未认证时为 0
func UserID(ctx context.Context) uint {
	id, _ := ctx.Value(userIDKey{}).(uint)
	return id
}

type Server struct {
	server *grpc.Server
	logger *logger.Logger
}

func NewServer(tokens *jwt.TokenManager, l *logger.Logger) *Server {
	if l == nil {
		l = logger.NewNopLogger()
	}
	s := &Server{logger: l}
	s.server = grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			s.unaryLoggingInterceptor, // 最外层记录最终状态码
			errorInterceptor,
			authInterceptor(tokens),
		),
	)
	return s
}

// RegisterChatEngine 注册 ChatEngine 服务
func (s *Server) RegisterChatEngine(impl ChatEngineServer) {
	s.server.RegisterService(&ServiceDesc, impl)
}

func (s *Server) unaryLoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)

	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.Duration("duration", time.Since(start)),
		zap.String("code", code.String()),
	}
	if code == codes.Internal || code == codes.Unknown {
		s.logger.ErrorContext(ctx, "gRPC call failed", append(fields, zap.Error(err))...)
	} else {
		s.logger.InfoContext(ctx, "gRPC call", fields...)
	}
	return resp, err
}

func errorInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

// authInterceptor 从 authorization 元数据中解析 Bearer 令牌
func authInterceptor(tokens *jwt.TokenManager) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "unauthenticated: missing authorization metadata")
		}
		raw, ok := strings.CutPrefix(values[0], "Bearer ")
		if !ok || raw == "" {
			return nil, status.Error(codes.Unauthenticated, "unauthenticated: malformed authorization metadata")
		}
		claims, err := tokens.ParseToken(raw)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "unauthenticated: "+err.Error())
		}
		return handler(WithUserID(ctx, claims.UserID), req)
	}
}

// Serve 阻塞直到监听器关闭或 Stop 被调用
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("Starting gRPC server", zap.String("address", lis.Addr().String()))
	if err := s.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

func (s *Server) Stop() {
	s.logger.Info("Stopping gRPC server")
	s.server.GracefulStop()
}

// GetServer 获取底层 gRPC 服务器
func (s *Server) GetServer() *grpc.Server {
	return s.server
}
