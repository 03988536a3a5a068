package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads .env files from the working directory and from the
// directory of the executable. Existing variables are never overridden.
// It returns a line per attempt so the caller can log once the logger is set up.
func LoadDotEnv() []string {
	var notes []string

	if err := godotenv.Load(); err != nil {
		notes = append(notes, "No .env file loaded from current directory: "+err.Error())
	} else {
		notes = append(notes, "Loaded .env file from current directory")
	}

	execPath, err := os.Executable()
	if err != nil {
		return append(notes, "Could not determine executable path: "+err.Error())
	}

	execDir := filepath.Dir(execPath)
	if err := godotenv.Load(filepath.Join(execDir, ".env")); err != nil {
		notes = append(notes, "No .env file loaded from app directory "+execDir)
	} else {
		notes = append(notes, "Loaded .env file from app directory "+execDir)
	}

	return notes
}
