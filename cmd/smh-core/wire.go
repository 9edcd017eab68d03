//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"
)

func InitMainHandler(path ConfigPath) (*MainHandler, error) {
	wire.Build(
		NewMainHandler,
		ProvideConfig,
		ProvideLogger,
		ProvideMqttClient,
	)
	return nil, nil // wire will generate the result
}
