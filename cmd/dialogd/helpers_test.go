package main

import "github.com/go-go-golems/dialogd/pkg/config"

func configBackend(kind, model string) config.BackendSettings {
	return config.BackendSettings{Kind: kind, Model: model, BaseURL: "http://localhost:8080/v1"}
}
