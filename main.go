package main

import "github.com/andresmejia3/fallwatch/cmd"

func main() {
	cmd.Execute()
}
