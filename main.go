package main

import "github.com/nextlevelbuilder/opsconsole/cmd"

func main() {
	cmd.Execute()
}
