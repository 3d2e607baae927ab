package main

import (
	"flag"
	"fmt"
	"log"

	"go-relayer/internal/config"
	"go-relayer/internal/handlers"

	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
)

// Generates a TOTP secret for admin.totpSecret, or an admin JWT signed with admin.jwtSecret
func main() {
	configPath := flag.String("config", "", "path to config file")
	newTOTP := flag.Bool("totp", false, "generate a new TOTP secret instead of a token")
	flag.Parse()

	if *newTOTP {
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      "go-relayer",
			AccountName: "admin",
		})
		if err != nil {
			log.Fatalf("Failed to generate TOTP secret: %v", err)
		}
		fmt.Println("============================================================")
		fmt.Println("Admin TOTP Secret Generated")
		fmt.Println("============================================================")
		fmt.Println()
		fmt.Printf("Secret: %s\n", key.Secret())
		fmt.Printf("URL:    %s\n", key.URL())
		fmt.Println()
		fmt.Println("Set it as admin.totpSecret (or ADMIN_TOTP_SECRET) and add the URL to an authenticator app.")
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Admin.JWTSecret == "" {
		log.Fatalf("admin.jwtSecret is not configured")
	}

	auth := handlers.NewAdminAuthHandler(cfg.Admin, logrus.StandardLogger())
	token, err := auth.GenerateToken(cfg.Admin.Username)
	if err != nil {
		log.Fatalf("Error generating token: %v", err)
	}

	fmt.Println("============================================================")
	fmt.Println("Admin JWT Token Generated")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(token)
	fmt.Println()
	fmt.Printf("  Username: %s\n", cfg.Admin.Username)
	fmt.Printf("  Expires in: %d minutes\n", cfg.Admin.TokenTTL)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("curl -H 'Authorization: Bearer %s' http://localhost:%d/admin/submissions\n", token, cfg.Server.Port)
}
