package redis

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// stream 訊息統一放在單一 data 欄位裡：msgpack 序列化後做 base64 編碼，
// 這樣不同服務實例之間不需要對欄位名稱達成共識，新增欄位也不會破壞舊消費者

var ErrMissingDataField = errors.New("data field not found or invalid type")

// EncodeMessage 將struct轉換為stream訊息的欄位map
func EncodeMessage[T any](data T) (map[string]any, error) {
	bytes, err := msgpack.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal error: %w", err)
	}
	return map[string]any{
		"data": base64.StdEncoding.EncodeToString(bytes),
	}, nil
}

// DecodeMessage 將stream訊息的欄位map還原成struct
func DecodeMessage[T any](message map[string]any) (T, error) {
	var result T
	dataStr, ok := message["data"].(string)
	if !ok {
		return result, ErrMissingDataField
	}
	bytes, err := base64.StdEncoding.DecodeString(dataStr)
	if err != nil {
		return result, fmt.Errorf("base64 decode error: %w", err)
	}
	if err := msgpack.Unmarshal(bytes, &result); err != nil {
		return result, fmt.Errorf("msgpack unmarshal error: %w", err)
	}
	return result, nil
}
