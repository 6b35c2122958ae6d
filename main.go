package main

import "sigetidwh/cmd"

func main() {
	cmd.Execute()
}
