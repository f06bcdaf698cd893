// Todosync is an offline-first todo list. Todos and categories are edited
// locally in SQLite and synchronised with a todo server on demand or on a
// timer.
//
// Usage:
//
//	todosync add "Buy milk" --category Groceries   # add a todo
//	todosync list [--all] [--dirty]                # show todos
//	todosync login                                 # store an access token
//	todosync sync [--direction both|up|down]       # one sync round per kind
//	todosync daemon [--interval <minutes>]         # sync on a timer until interrupted
//	todosync status                                # show config and sync state
//	todosync version                               # print version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/njoerd114/todosync/internal/cli"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "todosync:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	return cli.NewRootCommand(version).ExecuteContext(ctx)
}
