package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/noah-isme/toko-payments/internal/auth"
)

func main() {
	var (
		subject = flag.String("sub", "", "operator id the token is issued to")
		scopes  = flag.String("scope", auth.ScopePaymentsAdmin, "comma separated scopes")
		ttl     = flag.Duration("ttl", 15*time.Minute, "token lifetime")
	)
	flag.Parse()

	_ = godotenv.Load()

	tokens, err := auth.NewTokens(auth.TokensConfig{
		Secret:   os.Getenv("JWT_SECRET"),
		Issuer:   envOrDefault("JWT_ISSUER", "toko-payments"),
		Audience: envOrDefault("JWT_AUDIENCE", "back-office"),
		TTL:      *ttl,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var list []string
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	token, expires, err := tokens.Sign(*subject, list...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format(time.RFC3339))
	fmt.Println(token)
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
