package main

import "github.com/solsticeworks/scene-pilot/cmd"

func main() {
	cmd.Execute()
}
