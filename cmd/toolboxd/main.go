package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// TOOLBOX_LOG_* overrides may live in a local .env file.
	_ = godotenv.Load()

	if err := newApp(os.Stdout).Execute(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "toolboxd: %v\n", err)
		os.Exit(1)
	}
}
