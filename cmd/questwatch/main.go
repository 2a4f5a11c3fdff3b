package main

import "github.com/vietddude/questwatch/internal/cli"

func main() {
	cli.Execute()
}
