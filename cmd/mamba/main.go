// Package main is the entry point for the mamba CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/grindlemire/graft"
	"github.com/marimeireles/mamba/cmd/mamba/commands"
	"github.com/marimeireles/mamba/internal/app"
	"github.com/marimeireles/mamba/internal/core/domain"
	_ "github.com/marimeireles/mamba/internal/wiring"
)

func main() {
	os.Exit(run())
}

func run(opts ...func(*app.App)) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	components, _, err := graft.ExecuteFor[*app.Components](ctx)
	if err != nil {
		// Logger is not available yet if initialization failed.
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return 1
	}

	for _, opt := range opts {
		opt(components.App)
	}

	cli := commands.New(components.App)

	if err := cli.Execute(ctx); err != nil {
		var conflict *domain.Conflict
		if errors.As(err, &conflict) {
			_, _ = fmt.Fprintf(os.Stderr, "%s\n", conflict.Error())
			return 1
		}
		// zerr prints a report with stack trace and metadata when using %+v
		_, _ = fmt.Fprintf(os.Stderr, "%+v\n", err)
		return 1
	}
	return 0
}
