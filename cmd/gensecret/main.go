package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

const defaultBytesLen = 32

// Print random hex secret for SECRET_KEY or WEBHOOK_SECRET
func main() {
	n := pflag.IntP("bytes", "n", defaultBytesLen, "Secret length in bytes")
	pflag.Parse()

	if *n < 16 {
		fmt.Fprintln(os.Stderr, "secret must be at least 16 bytes")
		os.Exit(1)
	}

	b := make([]byte, *n)
	if _, err := rand.Read(b); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hex.EncodeToString(b))
}
