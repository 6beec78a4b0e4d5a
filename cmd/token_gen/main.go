// token_gen mints a bearer token for the bridge command API.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/technosupport/ts-nvr-bridge/internal/config"
	"github.com/technosupport/ts-nvr-bridge/internal/middleware"
)

func main() {
	configPath := flag.String("config", "config/default.yaml", "bridge config file")
	subject := flag.String("subject", "operator", "token subject")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	auth := middleware.NewJWTAuth(cfg.Server.JWTSecret)
	token, err := auth.IssueToken(*subject, *ttl)
	if err != nil {
		log.Fatalf("Token error: %v", err)
	}
	fmt.Println(token)
}
