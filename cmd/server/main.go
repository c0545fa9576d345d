package main

import (
	"log"
	"os"

	approuters "github.com/bspark23/chatsphere-pro/internal/app_routers"
	"github.com/bspark23/chatsphere-pro/internal/configuration"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.dev.json"
	}

	container, err := configuration.BuildContainer(configPath)
	if err != nil {
		log.Fatalf("Failed to build container: %v", err)
	}

	// Ensure cleanup on shutdown
	defer container.Close()

	// Setup routers
	approuters.StartServer(container)
}
