package utils

import (
	"regexp"
	"strings"

	"github.com/kyokomi/emoji/v2"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9_]{3,32}$`)

// NormalizeSlug 去掉首尾空白与前导 @，统一小写
func NormalizeSlug(slug string) string {
	slug = strings.TrimSpace(slug)
	slug = strings.TrimPrefix(slug, "@")
	return strings.ToLower(slug)
}

// ValidateSlug 校验规范化之后的 slug（3-32 位小写字母、数字、下划线）
func ValidateSlug(slug string) bool {
	return slugPattern.MatchString(slug)
}

var emojiSet = func() map[string]struct{} {
	out := make(map[string]struct{})
	for e := range emoji.RevCodeMap() {
		out[e] = struct{}{}
	}
	return out
}()

const variationSelector = "\ufe0f"

// IsValidEmoji 是否为单个已知的 Unicode 表情，忽略变体选择符
func IsValidEmoji(s string) bool {
	if s == "" {
		return false
	}
	if _, ok := emojiSet[s]; ok {
		return true
	}
	if strings.Contains(s, variationSelector) {
		return IsValidEmoji(strings.ReplaceAll(s, variationSelector, ""))
	}
	return false
}

// GenerateInviteCode 生成 URL 安全的随机邀请码
func GenerateInviteCode(length int) (string, error) {
	if length <= 0 {
		length = 12
	}
	return gonanoid.New(length)
}

// TrimNonBlank 去掉空白字符串，其余保持顺序
func TrimNonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
