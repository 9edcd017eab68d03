//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"
)

func InitMainHandler(path ConfigPath) (*MainHandler, func(), error) {
	wire.Build(
		NewMainHandler,
		ProvideConfig,
		ProvideLogger,
		ProvidePoints,
		ProvideTransport,
		ProvideMetrics,
		ProvideMqttClient,
		ProvideBridge,
		ProvidePublisher,
		ProvideDispatcher,
		ProvideScheduler,
		ProvideAPI,
	)
	return nil, nil, nil // wire will generate the result
}
