package main

import (
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"payment-evidence-backend/internal/cli"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, relying on system env")
	}

	cli.Execute()
}
