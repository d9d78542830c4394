package services

import "github.com/Gopher0727/ChatEngine/internal/errs"

// 资源不存在
var (
	ErrConversationNotFound = errs.New(errs.NotFound, "conversation_not_found", "会话不存在")
	ErrMessageNotFound      = errs.New(errs.NotFound, "message_not_found", "消息不存在")
	ErrUserNotFound         = errs.New(errs.NotFound, "user_not_found", "用户不存在")
	ErrInviteNotFound       = errs.New(errs.NotFound, "invite_not_found", "邀请链接不存在")
	ErrParticipantNotFound  = errs.New(errs.NotFound, "participant_not_found", "该用户不在会话中")
)

// 权限
var (
	ErrNotParticipant         = errs.New(errs.Forbidden, "not_participant", "不是会话成员")
	ErrAdminRequired          = errs.New(errs.Forbidden, "admin_required", "需要管理员权限")
	ErrChannelReadOnly        = errs.New(errs.Forbidden, "channel_read_only", "只有管理员可以在频道中发言")
	ErrInviteRequired         = errs.New(errs.Forbidden, "invite_required", "群组需要通过邀请加入")
	ErrPrivateChannel         = errs.New(errs.Forbidden, "private_channel", "私有频道需要通过邀请加入")
	ErrNotSender              = errs.New(errs.Forbidden, "not_sender", "只能操作自己发送的消息")
	ErrCannotKickAdmin        = errs.New(errs.Forbidden, "cannot_kick_admin", "不能移除其他管理员")
	ErrAdminCannotClear       = errs.New(errs.Forbidden, "admin_cannot_clear", "管理员请先退出会话或删除会话")
)

// 参数错误
var (
	ErrSelfConversation      = errs.New(errs.InvalidArgument, "self_conversation", "不能和自己创建私聊")
	ErrNotEnoughParticipants = errs.New(errs.InvalidArgument, "not_enough_participants", "群组至少需要两名其他成员")
	ErrTitleRequired         = errs.New(errs.InvalidArgument, "title_required", "标题不能为空")
	ErrInvalidSlug           = errs.New(errs.InvalidArgument, "invalid_slug", "slug 只能包含 3-32 位小写字母、数字或下划线")
	ErrDirectConversation    = errs.New(errs.InvalidArgument, "direct_conversation", "私聊不支持该操作")
	ErrNotChannel            = errs.New(errs.InvalidArgument, "not_channel", "只能加入频道")
	ErrCannotKickSelf        = errs.New(errs.InvalidArgument, "cannot_kick_self", "不能移除自己，请使用退出")
	ErrLastAdmin             = errs.New(errs.InvalidArgument, "last_admin", "不能移除最后一名管理员")
	ErrNewAdminRequired      = errs.New(errs.InvalidArgument, "new_admin_required", "退出前需要指定新的管理员")
	ErrInvalidNewAdmin       = errs.New(errs.InvalidArgument, "invalid_new_admin", "新的管理员必须是会话中的其他成员")
	ErrInvalidTarget         = errs.New(errs.InvalidArgument, "invalid_target", "conversation_id 与 target_user_id 必须且只能提供一个")
	ErrEmptyMessage          = errs.New(errs.InvalidArgument, "empty_message", "消息内容不能为空")
	ErrTooManyImages         = errs.New(errs.InvalidArgument, "too_many_images", "图片数量超出限制")
	ErrReplyOutside          = errs.New(errs.InvalidArgument, "reply_outside_conversation", "只能回复同一会话中的消息")
	ErrNotEditable           = errs.New(errs.InvalidArgument, "message_not_editable", "该消息不能编辑")
	ErrInvalidDeleteType     = errs.New(errs.InvalidArgument, "invalid_delete_type", "删除类型必须是 ALL 或 ME")
	ErrNoForwardTargets      = errs.New(errs.InvalidArgument, "no_forward_targets", "至少需要一个转发目标")
	ErrTooManyTargets        = errs.New(errs.InvalidArgument, "too_many_forward_targets", "转发目标数量超出限制")
	ErrMessageDeleted        = errs.New(errs.InvalidArgument, "message_deleted", "消息已被删除")
	ErrSystemMessage         = errs.New(errs.InvalidArgument, "system_message", "系统消息不支持该操作")
	ErrInvalidEmoji          = errs.New(errs.InvalidArgument, "invalid_emoji", "无效的表情")
	ErrInvalidUsageLimit     = errs.New(errs.InvalidArgument, "invalid_usage_limit", "使用次数上限至少为 1")
	ErrInvalidExpiry         = errs.New(errs.InvalidArgument, "invalid_expiry", "有效期至少为 1 分钟")
	ErrQueryTooShort         = errs.New(errs.InvalidArgument, "query_too_short", "搜索关键字至少 2 个字符")
	ErrUnknownFrame          = errs.New(errs.InvalidArgument, "unknown_frame", "不支持的帧类型")
)

// 状态冲突
var (
	ErrSlugTaken          = errs.New(errs.Conflict, "slug_taken", "slug 已被占用")
	ErrAlreadyMember      = errs.New(errs.Conflict, "already_member", "已经是会话成员")
	ErrInviteRevoked      = errs.New(errs.Conflict, "invite_revoked", "邀请链接已被撤销")
	ErrInviteExpired      = errs.New(errs.Conflict, "invite_expired", "邀请链接已过期")
	ErrInviteLimitReached = errs.New(errs.Conflict, "invite_limit_reached", "邀请链接使用次数已达上限")
	ErrBusy               = errs.New(errs.Conflict, "busy", "操作过于频繁，请稍后重试")
)
