package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/MrEthical07/authgate/internal/config"
	"github.com/MrEthical07/authgate/sqlstore"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	timeout := flag.Duration("timeout", time.Minute, "overall timeout")
	flag.Parse()

	dsn, err := config.DatabaseURL()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := sqlstore.Migrate(ctx, dsn, *direction); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", *direction, err)
		os.Exit(1)
	}
	fmt.Printf("migrate %s: ok\n", *direction)
}
