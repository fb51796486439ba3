// Package main is the entrypoint for the admin gateway. It serves the site
// behind the edge gate and exposes the admin session API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/appadook/portfolio-website-sub001/internal/config"
	"github.com/appadook/portfolio-website-sub001/internal/domain"
	"github.com/appadook/portfolio-website-sub001/internal/server"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode separates misconfiguration (2) from runtime failure (1) so
// supervisors can stop restarting a gateway that can never start.
func exitCode(err error) int {
	if domain.IsConfigError(err) {
		return 2
	}
	return 1
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:           "admin-gateway",
		PortFromConfig: func(cfg *config.Config) int { return cfg.HTTPPort },
	}, nil)
}
