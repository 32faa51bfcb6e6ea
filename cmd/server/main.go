package main

import (
	approuters "Saathi/internal/app_routers"
	"Saathi/internal/configuration"
	"fmt"
	"os"
)

func main() {
	container, err := configuration.BuildContainer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build container: %v\n", err)
		os.Exit(1)
	}

	// Ensure cleanup on shutdown
	defer container.Close()

	approuters.StartServer(container)
}
