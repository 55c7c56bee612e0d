package svm

import (
	"log/slog"
	"time"

	"github.com/sigweihq/knowpay/pkg/chains"
	"github.com/sigweihq/knowpay/pkg/constants"
)

// RegisterSVMReaders registers a reader per SVM network with user-provided endpoints.
// If a specific network has no endpoints, falls back to official endpoints if available.
// Networks outside the SVM family are skipped.
func RegisterSVMReaders(registry *chains.Registry, logger *slog.Logger, endpoints map[string][]string, timeout time.Duration) {
	if logger == nil {
		logger = slog.Default()
	}

	for network, eps := range endpoints {
		if !chains.IsSVMNetwork(network) {
			continue
		}

		if len(eps) == 0 {
			officialEps, ok := constants.OfficialRPCEndpoints[network]
			if !ok {
				logger.Warn("no endpoints provided for SVM network", "network", network)
				continue
			}
			eps = officialEps
			logger.Info("using official endpoints for SVM network", "network", network)
		}

		registry.Register(NewReader(network, eps, timeout, logger))
	}
}
