package main

import "github.com/Lupando/Kalix.Leo/cmd"

func main() {
	cmd.Execute()
}
