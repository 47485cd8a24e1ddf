package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/gophsync/internal/client/cli"
)

func main() {

	ctx := context.Background()

	if err := cli.Execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

}
