package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/thebowwman/fleetcast/internals/auth"
	"github.com/thebowwman/fleetcast/internals/config"
)

func main() {
	driverID := flag.String("driver", "", "driver id (required for the driver role)")
	role := flag.String("role", string(auth.RoleDispatcher), "role (driver|dispatcher)")
	cfgPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.NewSource(*cfgPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	tok, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL).MakeToken(*driverID, auth.Role(*role))
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Role:    %s\n", *role)
	if *driverID != "" {
		fmt.Printf("Driver:  %s\n", *driverID)
	}
	fmt.Printf("Expires: in %s\n\n", cfg.Auth.TokenTTL)
	fmt.Printf("Authorization: Bearer %s\n", tok)
}
