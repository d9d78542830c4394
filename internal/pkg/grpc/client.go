package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/Gopher0727/ChatEngine/internal/models"
	"github.com/Gopher0727/ChatEngine/internal/services"
)

// Client 封装 ChatEngine gRPC 客户端，每次调用携带 Bearer 令牌
type Client struct {
	conn  *grpc.ClientConn
	token string
}

// NewClient 创建客户端，opts 追加在默认选项之后（测试中用于注入 bufconn 拨号器）
func NewClient(target, token string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chat engine: %w", err)
	}
	return &Client{conn: conn, token: token}, nil
}

// Close 关闭客户端连接
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	return c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp)
}

func (c *Client) ListConversations(ctx context.Context, archived bool) ([]services.ConversationEntry, error) {
	resp := &ListConversationsResponse{}
	if err := c.invoke(ctx, "ListConversations", &ListConversationsRequest{Archived: archived}, resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *Client) ListMessages(ctx context.Context, req *ListMessagesRequest) (*services.MessagePage, error) {
	resp := &services.MessagePage{}
	if err := c.invoke(ctx, "ListMessages", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) SendMessage(ctx context.Context, req *SendMessageRequest) (*services.MessageDTO, error) {
	resp := &services.MessageDTO{}
	if err := c.invoke(ctx, "SendMessage", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) ToggleReaction(ctx context.Context, messageID int64, emoji string) (*services.ReactionResult, error) {
	resp := &services.ReactionResult{}
	req := &ToggleReactionRequest{MessageID: messageID, Emoji: emoji}
	if err := c.invoke(ctx, "ToggleReaction", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) JoinViaInvite(ctx context.Context, code string) (*models.Conversation, error) {
	resp := &models.Conversation{}
	if err := c.invoke(ctx, "JoinViaInvite", &JoinViaInviteRequest{Code: code}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) MarkMessagesRead(ctx context.Context, conversationID uint) error {
	return c.invoke(ctx, "MarkMessagesRead", &MarkMessagesReadRequest{ConversationID: conversationID}, &Empty{})
}
