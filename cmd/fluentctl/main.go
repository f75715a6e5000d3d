// Command fluentctl is the operator CLI for the fluent data layer.
package main

import "github.com/JonMunkholm/fluent/internal/cli"

func main() {
	cli.Execute()
}
