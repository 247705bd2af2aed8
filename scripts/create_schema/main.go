package main

import (
	"flag"

	"github.com/mahaj/chatcore/pkg/bootstrap"
	"github.com/mahaj/chatcore/pkg/config"
	"github.com/mahaj/chatcore/pkg/db"
	clog "github.com/mahaj/chatcore/pkg/log"
)

func main() {
	replication := flag.Int("replication", 1, "keyspace replication factor")
	flag.Parse()

	config.LoadDotEnv()
	cfg, err := config.Load("scripts")
	if err != nil {
		clog.L().Fatal().Err(err).Msg("load config")
	}
	clog.Init(cfg.Log)

	opts := bootstrap.ScyllaOptions(cfg)
	if err := db.CreateKeyspace(opts, *replication); err != nil {
		clog.L().Fatal().Err(err).Str("keyspace", opts.Keyspace).Msg("create keyspace")
	}

	session, err := db.NewSession(opts)
	if err != nil {
		clog.L().Fatal().Err(err).Msg("connect")
	}
	defer session.Close()

	if err := session.Migrate(); err != nil {
		clog.L().Fatal().Err(err).Msg("migrate")
	}
	for _, t := range db.Tables {
		clog.L().Info().Str("table", t.Name).Msg("table ready")
	}
}
