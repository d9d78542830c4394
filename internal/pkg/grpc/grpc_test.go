package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/Gopher0727/ChatEngine/internal/errs"
	redisclient "github.com/Gopher0727/ChatEngine/internal/pkg/redis"
	"github.com/Gopher0727/ChatEngine/internal/repositories"
	"github.com/Gopher0727/ChatEngine/internal/services"
	"github.com/Gopher0727/ChatEngine/internal/storage/storagetest"
	"github.com/Gopher0727/ChatEngine/middleware/jwt"
	"github.com/Gopher0727/ChatEngine/utils/snowflake"
)

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, string, any) {}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, uint, string, any) error { return nil }

type testEnv struct {
	svc    *services.Services
	tokens *jwt.TokenManager
	lis    *bufconn.Listener
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()

	db := storagetest.NewDB(t)
	storagetest.SeedUsers(t, db, 3)
	rdb, _ := storagetest.NewRedis(t)
	rc := redisclient.Wrap(rdb)
	ids, err := snowflake.NewGenerator(1)
	require.NoError(t, err)

	svc := services.New(services.Deps{
		Store:       repositories.NewStore(db),
		Broadcaster: nopBroadcaster{},
		Notifier:    nopNotifier{},
		Locker:      rc,
		Presence:    rc,
		IDs:         ids,
	})
	tokens := jwt.NewTokenManager("grpc-test-secret", 1)

	srv := NewServer(tokens, nil)
	srv.RegisterChatEngine(NewChatEngineService(svc))
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return &testEnv{svc: svc, tokens: tokens, lis: lis}
}

func (e *testEnv) client(t *testing.T, token string) *Client {
	t.Helper()
	c, err := NewClient("passthrough:///bufnet", token,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return e.lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (e *testEnv) token(t *testing.T, userID uint) string {
	t.Helper()
	tok, err := e.tokens.GenerateToken(userID, fmt.Sprintf("user%d", userID))
	require.NoError(t, err)
	return tok
}

func TestServer_RequiresToken(t *testing.T) {
	env := setupServer(t)
	ctx := context.Background()

	_, err := env.client(t, "").ListConversations(ctx, false)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = env.client(t, "not-a-jwt").ListConversations(ctx, false)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	other := jwt.NewTokenManager("another-secret", 1)
	forged, err := other.GenerateToken(1, "user1")
	require.NoError(t, err)
	_, err = env.client(t, forged).ListConversations(ctx, false)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestServer_SendAndList(t *testing.T) {
	env := setupServer(t)
	ctx := context.Background()
	alice := env.client(t, env.token(t, 1))
	bob := env.client(t, env.token(t, 2))

	target := uint(2)
	sent, err := alice.SendMessage(ctx, &SendMessageRequest{TargetUserID: &target, Content: "hello"})
	require.NoError(t, err)
	require.NotNil(t, sent.Content)
	assert.Equal(t, "hello", *sent.Content)
	assert.Equal(t, uint(1), sent.SenderID)

	convs, err := bob.ListConversations(ctx, false)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, sent.ConversationID, convs[0].ID)
	assert.Equal(t, 1, convs[0].UnreadCount)

	page, err := bob.ListMessages(ctx, &ListMessagesRequest{ConversationID: sent.ConversationID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, sent.ID, page.Messages[0].ID)

	require.NoError(t, bob.MarkMessagesRead(ctx, sent.ConversationID))
	convs, err = bob.ListConversations(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, convs[0].UnreadCount)

	res, err := bob.ToggleReaction(ctx, sent.ID, "👍")
	require.NoError(t, err)
	assert.Equal(t, "added", res.Transition)
}

func TestServer_ErrorMapping(t *testing.T) {
	env := setupServer(t)
	ctx := context.Background()
	carol := env.client(t, env.token(t, 3))

	_, err := carol.ListMessages(ctx, &ListMessagesRequest{ConversationID: 999, Limit: 10})
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.NotFound, st.Code())
	assert.Contains(t, st.Message(), "conversation_not_found")

	_, err = carol.SendMessage(ctx, &SendMessageRequest{Content: "nowhere"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = carol.JoinViaInvite(ctx, "missing")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"not found", services.ErrMessageNotFound, codes.NotFound},
		{"forbidden", services.ErrNotParticipant, codes.PermissionDenied},
		{"invalid", services.ErrEmptyMessage, codes.InvalidArgument},
		{"invite revoked", services.ErrInviteRevoked, codes.FailedPrecondition},
		{"invite expired", services.ErrInviteExpired, codes.FailedPrecondition},
		{"invite limit", services.ErrInviteLimitReached, codes.FailedPrecondition},
		{"busy", services.ErrBusy, codes.Aborted},
		{"slug taken", services.ErrSlugTaken, codes.AlreadyExists},
		{"unauthenticated", errs.New(errs.Unauthenticated, "token_expired", "expired"), codes.Unauthenticated},
		{"wrapped", fmt.Errorf("load: %w", services.ErrConversationNotFound), codes.NotFound},
		{"canceled", context.Canceled, codes.Canceled},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
		{"plain", errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(toStatus(tt.err)))
		})
	}

	assert.NoError(t, toStatus(nil))
	already := status.Error(codes.Unavailable, "down")
	assert.Equal(t, already, toStatus(already))
}
