package domains

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"shopsync/internal/domains/common"
	"shopsync/internal/model"
	"shopsync/internal/queue"
	"shopsync/pkg/errorutil"
	"shopsync/pkg/logger"
)

func TestValidateHandlerMapCoversAllTopics(t *testing.T) {
	require.NoError(t, ValidateHandlerMap())
	require.Len(t, HandlerMap, len(model.Topics))
}

func TestGetProcessRejectsUnknownTopic(t *testing.T) {
	proc := GetProcess(&common.Deps{Logger: logger.NopLogger{}}, logger.NopLogger{})

	env := model.NewJobEnvelope(model.Topic("orders/nonsense"), "eu.myshopify.com", "key", []byte(`{}`), 3)
	err := proc(context.Background(), &queue.Job{Envelope: env})
	require.Error(t, err)
	require.False(t, errorutil.IsRetryable(err))
}

func TestGetProcessRejectsMalformedPayload(t *testing.T) {
	proc := GetProcess(&common.Deps{Logger: logger.NopLogger{}}, logger.NopLogger{})

	env := model.NewJobEnvelope(model.TopicOrderCreate, "eu.myshopify.com", "key", []byte(`{not json`), 3)
	err := proc(context.Background(), &queue.Job{Envelope: env})
	require.Error(t, err)
	require.False(t, errorutil.IsRetryable(err))
}

func TestGetProcessRecoversHandlerPanic(t *testing.T) {
	// Engine 为 nil，handler 执行时必然 panic，应被捕获并转为不可重试错误
	proc := GetProcess(&common.Deps{Logger: logger.NopLogger{}}, logger.NopLogger{})

	env := model.NewJobEnvelope(model.TopicInventoryUpdate, "eu.myshopify.com", "key",
		[]byte(`{"inventory_item_id": "inv-1", "available": 5}`), 3)
	err := proc(context.Background(), &queue.Job{Envelope: env})
	require.Error(t, err)
	require.False(t, errorutil.IsRetryable(err))
}
