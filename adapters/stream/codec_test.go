package stream_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bazaar/adapters/stream"
)

func TestEncodeDecodeMessage(t *testing.T) {
	t.Run("編碼後應能還原出相同的內容", func(t *testing.T) {
		original := TestMessage{ID: "1", Data: "hello"}

		encoded, err := stream.EncodeMessage(original)
		assert.NoError(t, err)
		assert.Contains(t, encoded, "data")

		decoded, err := stream.DecodeMessage[TestMessage](encoded)
		assert.NoError(t, err)
		assert.Equal(t, original, decoded)
	})

	t.Run("指標類型應被拒絕", func(t *testing.T) {
		_, err := stream.EncodeMessage(&TestMessage{})
		assert.ErrorIs(t, err, stream.ErrPointerType)

		_, err = stream.DecodeMessage[*TestMessage](map[string]any{"data": ""})
		assert.ErrorIs(t, err, stream.ErrPointerType)
	})

	t.Run("空的封包應還原出零值", func(t *testing.T) {
		decoded, err := stream.DecodeMessage[TestMessage](map[string]any{})
		assert.NoError(t, err)
		assert.Equal(t, TestMessage{}, decoded)
	})

	t.Run("缺少data欄位時應失敗", func(t *testing.T) {
		_, err := stream.DecodeMessage[TestMessage](map[string]any{"other": "x"})
		assert.Error(t, err)
	})

	t.Run("data不是合法的base64時應失敗", func(t *testing.T) {
		_, err := stream.DecodeMessage[TestMessage](map[string]any{"data": "!!!"})
		assert.Error(t, err)
	})
}
