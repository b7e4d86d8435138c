// Command cachectl inspects and edits a cache configured by a YAML file.
//
//	cachectl --config cache.yaml set user:1 '{"name":"ada"}' --ttl 10m --tag users
//	cachectl --config cache.yaml get user:1
//	cachectl --config cache.yaml flush --tag users
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
