// Package main provides the glconnect CLI for connecting GitLab accounts and importing projects.
package main

import "github.com/mscno/glconnect/cmd/glconnect/commands"

func main() {
	commands.Execute(Version)
}
