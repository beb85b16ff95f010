// videactl - operator tool for the Videa training advisor
package main

import (
	"github.com/ashureev/videa/internal/cli"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()
	cli.Execute()
}
