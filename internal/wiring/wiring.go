// Package wiring registers all Graft nodes for the application.
package wiring

import (
	// Register adapter nodes.
	_ "github.com/marimeireles/mamba/internal/adapters/config"
	_ "github.com/marimeireles/mamba/internal/adapters/confirm"
	_ "github.com/marimeireles/mamba/internal/adapters/logger"
	_ "github.com/marimeireles/mamba/internal/adapters/telemetry"
	// Register app nodes.
	_ "github.com/marimeireles/mamba/internal/app"
)
