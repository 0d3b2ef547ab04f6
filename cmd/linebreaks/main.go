package main

import (
	"context"
	"os"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/tyemirov/linebreaks/internal/app"
)

func main() {
	_, _ = maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))

	exitCode := app.Execute(context.Background(), os.Args[1:])
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
