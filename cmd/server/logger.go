package main

import (
	"github.com/resocorp/ArmogridPaaS-sub000/internal/config"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
