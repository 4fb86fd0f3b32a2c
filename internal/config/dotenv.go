package config

import (
	"github.com/joho/godotenv"
)

// LoadDotEnv loads .env and .env.local into the process environment for
// local development. It is a no-op (and intentionally silent on a missing
// file) in production, matching the teacher's cmd/bundlecli bootstrap.
func LoadDotEnv() {
	if IsProduction() {
		return
	}
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")
}
