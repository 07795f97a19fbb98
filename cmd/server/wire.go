//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/xiaoshi569/antigravity2api/internal/config"
	"github.com/xiaoshi569/antigravity2api/internal/handler"
	"github.com/xiaoshi569/antigravity2api/internal/queue"
	"github.com/xiaoshi569/antigravity2api/internal/repository"
	"github.com/xiaoshi569/antigravity2api/internal/scheduler"
	"github.com/xiaoshi569/antigravity2api/internal/server"
	"github.com/xiaoshi569/antigravity2api/internal/service"
)

// initializeApp 组装完整应用
func initializeApp() (*Application, error) {
	wire.Build(
		config.ProviderSet,
		repository.ProviderSet,
		scheduler.ProviderSet,
		queue.ProviderSet,
		service.ProviderSet,
		handler.ProviderSet,
		server.ProviderSet,
		wire.Bind(new(scheduler.CooldownTimer), new(*service.CooldownService)),
		newApplication,
	)
	return nil, nil
}
