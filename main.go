package main

import (
	circle "github.com/circlechat/circle/app"
)

func main() {
	app := circle.New(nil, nil)
	app.Start()
}
