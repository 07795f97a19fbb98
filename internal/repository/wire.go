package repository

import (
	"github.com/google/wire"

	"github.com/xiaoshi569/antigravity2api/internal/config"
)

// ProviderSet 提供仓储层的依赖
var ProviderSet = wire.NewSet(
	ProvideCredentialStore,
)

// ProvideCredentialStore 提供凭据文件仓储
func ProvideCredentialStore(cfg *config.Config) *CredentialStore {
	return NewCredentialStore(cfg.Accounts.File)
}
