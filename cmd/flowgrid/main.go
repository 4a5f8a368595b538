package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/vk/flowgrid/internal/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exitErr *app.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
