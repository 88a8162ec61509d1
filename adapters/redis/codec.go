package redis

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// payloadField Stream 訊息中存放序列化資料的欄位
const payloadField = "payload"

var (
	ErrPointerType    = errors.New("pointer type is not allowed")
	ErrMissingPayload = errors.New("payload field not found")
)

// EncodePayload 以 msgpack 序列化後再做 base64，放進 Stream 訊息的 payload 欄位
func EncodePayload[T any](data T) (map[string]any, error) {
	if isPointer[T]() {
		return nil, ErrPointerType
	}

	raw, err := msgpack.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal error: %w", err)
	}

	return map[string]any{
		payloadField: base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// DecodePayload EncodePayload 的反向操作
func DecodePayload[T any](values map[string]any) (T, error) {
	var result T
	if isPointer[T]() {
		return result, ErrPointerType
	}

	encoded, ok := values[payloadField].(string)
	if !ok {
		return result, ErrMissingPayload
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return result, fmt.Errorf("base64 decode error: %w", err)
	}

	if err := msgpack.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("msgpack unmarshal error: %w", err)
	}
	return result, nil
}

func isPointer[T any]() bool {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	return typ.Kind() == reflect.Ptr
}
