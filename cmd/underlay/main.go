// Copyright © 2018 One Concern

package main

import (
	"github.com/underlay-tools/underlay/cmd/underlay/cmd"
)

func main() {
	cmd.Execute()
}
