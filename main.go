package main

import "github.com/oneirolab/dreamgate/cmd"

func main() {
	cmd.Execute()
}
