// Command tokengen mints HS256 bearer tokens for local testing.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/rl1809/dropspot/internal/auth"
)

func main() {
	var (
		user   = pflag.String("user", "", "user id placed in the sub claim (required)")
		admin  = pflag.Bool("admin", false, "grant the admin role")
		ttl    = pflag.Duration("ttl", 24*time.Hour, "token lifetime")
		secret = pflag.String("secret", os.Getenv("DROPSPOT_JWT_SECRET"), "HMAC secret (defaults to $DROPSPOT_JWT_SECRET)")
	)
	pflag.Parse()

	if *user == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "tokengen: --user and --secret (or DROPSPOT_JWT_SECRET) are required")
		pflag.Usage()
		os.Exit(2)
	}

	role := ""
	if *admin {
		role = auth.RoleAdmin
	}

	token, err := auth.NewIssuer(*secret).Issue(*user, role, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
