package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/Gopher0727/ChatEngine/internal/models"
	"github.com/Gopher0727/ChatEngine/internal/services"
)

const serviceName = "chatengine.v1.ChatEngine"

type ListConversationsRequest struct {
	Archived bool `json:"archived"`
}

type ListConversationsResponse struct {
	Conversations []services.ConversationEntry `json:"conversations"`
}

type ListMessagesRequest struct {
	ConversationID uint   `json:"conversation_id"`
	Cursor         *int64 `json:"cursor,omitempty"`
	Limit          int    `json:"limit"`
}

type SendMessageRequest struct {
	ConversationID *uint    `json:"conversation_id,omitempty"`
	TargetUserID   *uint    `json:"target_user_id,omitempty"`
	Content        string   `json:"content"`
	Images         []string `json:"images,omitempty"`
	ReplyToID      *int64   `json:"reply_to_id,omitempty"`
}

type ToggleReactionRequest struct {
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type JoinViaInviteRequest struct {
	Code string `json:"code"`
}

type MarkMessagesReadRequest struct {
	ConversationID uint `json:"conversation_id"`
}

type Empty struct{}

// ChatEngineServer 对外暴露的 RPC 方法，调用者身份来自认证拦截器
type ChatEngineServer interface {
	ListConversations(ctx context.Context, req *ListConversationsRequest) (*ListConversationsResponse, error)
	ListMessages(ctx context.Context, req *ListMessagesRequest) (*services.MessagePage, error)
	SendMessage(ctx context.Context, req *SendMessageRequest) (*services.MessageDTO, error)
	ToggleReaction(ctx context.Context, req *ToggleReactionRequest) (*services.ReactionResult, error)
	JoinViaInvite(ctx context.Context, req *JoinViaInviteRequest) (*models.Conversation, error)
	MarkMessagesRead(ctx context.Context, req *MarkMessagesReadRequest) (*Empty, error)
}

// ChatEngineService 基于业务服务实现 ChatEngineServer
type ChatEngineService struct {
	svc *services.Services
}

func NewChatEngineService(svc *services.Services) *ChatEngineService {
	return &ChatEngineService{svc: svc}
}

func (s *ChatEngineService) ListConversations(ctx context.Context, req *ListConversationsRequest) (*ListConversationsResponse, error) {
	list, err := s.svc.Query.Conversations(ctx, UserID(ctx), req.Archived)
	if err != nil {
		return nil, err
	}
	return &ListConversationsResponse{Conversations: list}, nil
}

func (s *ChatEngineService) ListMessages(ctx context.Context, req *ListMessagesRequest) (*services.MessagePage, error) {
	return s.svc.Query.Messages(ctx, UserID(ctx), req.ConversationID, req.Cursor, req.Limit)
}

func (s *ChatEngineService) SendMessage(ctx context.Context, req *SendMessageRequest) (*services.MessageDTO, error) {
	return s.svc.Messages.SendMessage(ctx, UserID(ctx), &services.SendMessageRequest{
		ConversationID: req.ConversationID,
		TargetUserID:   req.TargetUserID,
		Content:        req.Content,
		Images:         req.Images,
		ReplyToID:      req.ReplyToID,
	})
}

func (s *ChatEngineService) ToggleReaction(ctx context.Context, req *ToggleReactionRequest) (*services.ReactionResult, error) {
	return s.svc.Reactions.ToggleMessageReaction(ctx, UserID(ctx), req.MessageID, req.Emoji)
}

func (s *ChatEngineService) JoinViaInvite(ctx context.Context, req *JoinViaInviteRequest) (*models.Conversation, error) {
	return s.svc.Invites.JoinViaInvite(ctx, UserID(ctx), req.Code)
}

func (s *ChatEngineService) MarkMessagesRead(ctx context.Context, req *MarkMessagesReadRequest) (*Empty, error) {
	if err := s.svc.ReadState.MarkMessagesRead(ctx, UserID(ctx), req.ConversationID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

// unaryHandler 把一个类型化方法适配为 grpc.MethodHandler
func unaryHandler[Req, Resp any](method string, call func(ChatEngineServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ChatEngineServer), ctx, req)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + serviceName + "/" + method,
			}
			return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChatEngineServer), ctx, req.(*Req))
			})
		},
	}
}

// ServiceDesc 手写的服务描述，消息体使用 JSON 编解码
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ChatEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("ListConversations", ChatEngineServer.ListConversations),
		unaryHandler("ListMessages", ChatEngineServer.ListMessages),
		unaryHandler("SendMessage", ChatEngineServer.SendMessage),
		unaryHandler("ToggleReaction", ChatEngineServer.ToggleReaction),
		unaryHandler("JoinViaInvite", ChatEngineServer.JoinViaInvite),
		unaryHandler("MarkMessagesRead", ChatEngineServer.MarkMessagesRead),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chatengine/v1/chat_engine.json",
}
