package domains

import (
	"fmt"

	"shopsync/internal/domains/common"
	"shopsync/internal/domains/handlers/inventory"
	"shopsync/internal/domains/handlers/order"
	"shopsync/internal/domains/handlers/product"
	"shopsync/internal/domains/handlers/variantcheck"
	"shopsync/internal/model"
)

// HandlerMap 路由表（Topic → Handler 映射）
var HandlerMap = map[model.Topic]common.HandlerFactory{
	model.TopicInventoryUpdate: inventory.NewHandler,
	model.TopicOrderCreate:     order.NewHandler,
	model.TopicProductCreate:   product.NewHandler,
	model.TopicProductUpdate:   product.NewHandler,
	model.TopicVariantUpdate:   product.NewHandler,
	model.TopicZeroCheck:       variantcheck.NewHandler,
}

// ValidateHandlerMap 启动时校验每个任务类型都有 Handler
func ValidateHandlerMap() error {
	for _, topic := range model.Topics {
		if _, ok := HandlerMap[topic]; !ok {
			return fmt.Errorf("no handler registered for topic: %s", topic)
		}
	}
	return nil
}
