package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Verify 校验 Webhook 签名
// 签名 = base64(HMAC_SHA256(rawBody, secret))，必须基于原始请求字节计算，
// 任何重新序列化都会导致摘要不一致。
func Verify(rawBody []byte, headerDigest string, secret string) bool {
	if len(rawBody) == 0 || headerDigest == "" || secret == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	// hmac.Equal 常数时间比较
	return hmac.Equal([]byte(expected), []byte(headerDigest))
}

// Sign 计算签名（测试和出站校验用）
func Sign(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// StripGID 去除平台 URN 前缀
// "gid://shopify/InventoryItem/555" → "555"；无前缀的 ID 原样返回。
func StripGID(id string) string {
	if !strings.HasPrefix(id, "gid://") {
		return id
	}
	idx := strings.LastIndex(id, "/")
	if idx < 0 || idx == len(id)-1 {
		return id
	}
	return id[idx+1:]
}
