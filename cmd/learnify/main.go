package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/learnify/learnify/internal/clock"
	"github.com/learnify/learnify/internal/config"
	"github.com/learnify/learnify/internal/migration"
	"github.com/learnify/learnify/internal/observability"
	"github.com/learnify/learnify/internal/server"
	"github.com/learnify/learnify/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
