package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mhoehle/loxodon/activitypub"
	"github.com/mhoehle/loxodon/db"
	"github.com/mhoehle/loxodon/util"
	"github.com/mhoehle/loxodon/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	log.Println("Opening database...")
	database, err := db.Open(conf.Conf.DbPath)
	if err != nil {
		log.Fatalln(err)
	}

	engine := activitypub.NewEngine(database, database, database, nil, conf)

	if conf.Conf.WithAp {
		engine.StartWorkers()
	}

	server := web.NewServer(conf, database, engine)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Run(); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Shutting down")
}
