package main

import (
	"flag"

	"github.com/mahaj/chatcore/pkg/bootstrap"
	"github.com/mahaj/chatcore/pkg/config"
	"github.com/mahaj/chatcore/pkg/db"
	clog "github.com/mahaj/chatcore/pkg/log"
)

func main() {
	only := flag.String("table", "", "drop only this table")
	flag.Parse()

	config.LoadDotEnv()
	cfg, err := config.Load("scripts")
	if err != nil {
		clog.L().Fatal().Err(err).Msg("load config")
	}
	clog.Init(cfg.Log)

	session, err := db.NewSession(bootstrap.ScyllaOptions(cfg))
	if err != nil {
		clog.L().Fatal().Err(err).Msg("failed to connect to ScyllaDB")
	}
	defer session.Close()

	for i := len(db.Tables) - 1; i >= 0; i-- {
		name := db.Tables[i].Name
		if *only != "" && name != *only {
			continue
		}
		clog.L().Info().Str("table", name).Msg("dropping table")
		if err := session.Query("DROP TABLE IF EXISTS " + name).Exec(); err != nil {
			clog.L().Fatal().Err(err).Str("table", name).Msg("failed to drop table")
		}
	}
	clog.L().Info().Msg("tables dropped")
}
