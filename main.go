package main

import "github.com/diegose/limitd-go/cmd"

func main() {
	cmd.Execute()
}
