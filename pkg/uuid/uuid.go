package uuid

import (
	"strings"

	"github.com/google/uuid"
)

// GetUUID 生成按时间有序的 UUID (v7), 生成失败时退化为随机 UUID
func GetUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// GetPureUUID 去掉连字符的 UUID
func GetPureUUID() string {
	return strings.ReplaceAll(GetUUID(), "-", "")
}
