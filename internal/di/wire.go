//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"PatternDesk/pkg/config"
	"PatternDesk/pkg/server"
)

// InitializeApp wires up all dependencies for mode and returns the
// application with its cleanup.
func InitializeApp(cfg *config.Config, mode server.Mode) (*server.App, func(), error) {
	wire.Build(
		// Metrics
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideCache,

		// Repositories
		ProvidePairs,
		ProvideReportStore,
		ProvideCandleFeed,
		ProvidePatternMemory,
		ProvideEventPublisher,

		// Services
		ProvideDetector,
		ProvideLimiter,

		// Use cases
		ProvideRunner,
		ProvideScheduler,
		ProvideDashboard,

		// Delivery
		ProvideReportsHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
