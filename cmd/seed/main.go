package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/internal/config"
	"github.com/MrEthical07/authgate/password"
	"github.com/MrEthical07/authgate/sqlstore"
)

func main() {
	var (
		email    = flag.String("email", "", "account email (required)")
		username = flag.String("username", "", "account username (defaults to the email local part)")
		secret   = flag.String("password", "", "account password (required)")
		role     = flag.String("role", authgate.RoleAdmin, "account role")
	)
	flag.Parse()

	if *email == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "-email and -password are required")
		os.Exit(2)
	}

	dsn, err := config.DatabaseURL()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	hasher, err := password.New(password.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "hasher: %v\n", err)
		os.Exit(1)
	}
	if len(*secret) < hasher.MinLength() {
		fmt.Fprintf(os.Stderr, "password must be at least %d characters\n", hasher.MinLength())
		os.Exit(2)
	}
	hash, err := hasher.Hash(*secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash: %v\n", err)
		os.Exit(1)
	}

	name := strings.TrimSpace(*username)
	if name == "" {
		name, _, _ = strings.Cut(*email, "@")
	}
	if strings.ContainsAny(name, "@ \t") {
		fmt.Fprintln(os.Stderr, "username must not contain '@' or whitespace")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sqlstore.Open(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	user, err := sqlstore.NewUserStore(db).CreateUser(ctx, authgate.CreateUserInput{
		Email:        strings.ToLower(strings.TrimSpace(*email)),
		Username:     strings.ToLower(strings.TrimSpace(name)),
		Role:         *role,
		PasswordHash: hash,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("created %s (%s) role=%s\n", user.Email, user.ID, user.Role)
}
