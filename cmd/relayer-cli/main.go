package main

import "relay-core/cmd/relayer-cli/cmd"

func main() {
	cmd.Execute()
}
