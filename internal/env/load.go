// Package env loads configuration from the process environment, with an
// optional .env file for development.
package env

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadEnv loads a .env file if one is present next to the binary.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, assuming environment variables are set directly.")
	}
}

// MustGetEnv returns the value of a required environment variable, exiting
// the process if it is unset.
func MustGetEnv(key string) string {
	val, ok := os.LookupEnv(key)
	if !ok {
		log.Fatalf("Environment variable %s not set", key)
	}
	return val
}

// GetEnv returns the value of an environment variable, or fallback if unset.
func GetEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

// GetEnvInt returns an integer environment variable, or fallback if unset or
// unparseable.
func GetEnvInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		log.Printf("Environment variable %s=%q is not an integer, using %d", key, val, fallback)
		return fallback
	}
	return n
}

// GetEnvBool reports whether an environment variable is set to "true".
func GetEnvBool(key string) bool {
	return os.Getenv(key) == "true"
}
