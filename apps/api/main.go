package main

import (
	"github.com/smallbiznis/companion/internal/app"
	"go.uber.org/fx"
)

func main() {
	fx.New(app.Modules()).Run()
}
