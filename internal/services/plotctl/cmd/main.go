package main

import (
	"fmt"
	"os"

	"github.com/LeonardoBeccarini/agrosmart/internal/services/plotctl"
)

var Version = "dev"

func main() {
	if err := plotctl.NewRootCommand(Version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
