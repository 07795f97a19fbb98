package handler

import (
	"github.com/google/wire"

	"github.com/xiaoshi569/antigravity2api/internal/service"
)

// ProviderSet 提供接口层的依赖
var ProviderSet = wire.NewSet(
	NewOpenAIHandler,
	NewHealthHandler,
	NewStatsHandler,
	wire.Bind(new(ChatGateway), new(*service.GatewayService)),
)
