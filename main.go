package main

import (
	"fmt"
	"os"

	"github.com/hellobchain/limsflow/common/errs"
	"github.com/hellobchain/limsflow/core/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", errs.Message(err), err)
		os.Exit(1)
	}
}
