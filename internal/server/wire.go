package server

import (
	"github.com/google/wire"
)

// ProviderSet 提供 HTTP 服务的依赖
var ProviderSet = wire.NewSet(
	NewRouter,
	NewServer,
)
