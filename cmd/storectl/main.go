package main

import "github.com/terraconstructs/storefront/cmd/storectl/cmd"

func main() {
	cmd.Execute()
}
