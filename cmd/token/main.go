// Command token mints a signed JWT for local testing of the API.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"mines/internal/auth"
	"mines/internal/config"
)

func main() {
	account := flag.String("account", "", "account id placed in the token subject")
	admin := flag.Bool("admin", false, "grant the admin claim")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *account == "" {
		log.Fatal("Usage: token -account <id> [-admin] [-ttl 24h]")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	signer, err := auth.NewSigner(cfg.JWTSecret)
	if err != nil {
		log.Fatal(err)
	}

	token, err := signer.Issue(*account, *admin, *ttl)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Println(token)
}
