package main

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

// Prints a bcrypt hash suitable for API_KEY, so the plain key never has to
// be stored in the server's environment.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/hash-api-key.go <api-key>\n")
		os.Exit(1)
	}

	key := os.Args[1]
	if len(key) < 32 {
		fmt.Fprintf(os.Stderr, "Warning: keys shorter than 32 characters are rejected in production\n")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), 12)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(hash))
}
