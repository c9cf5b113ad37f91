package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"paywall/internal/util"
)

// Prints the identity provider's ES256 signing key as PEM, ready for
// SUPABASE_JWT_SECRET.
func main() {
	url := flag.String("url", "http://127.0.0.1:54321/auth/v1/.well-known/jwks.json", "JWKS endpoint")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(*url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching JWKS: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	var jwks util.JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing JWKS: %v\n", err)
		os.Exit(1)
	}
	if len(jwks.Keys) == 0 {
		fmt.Fprintln(os.Stderr, "No keys found in JWKS")
		os.Exit(1)
	}

	pemKey, err := util.ECJWKToPEM(jwks.Keys[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error converting key: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(pemKey)
}
