package main

import (
	"net/http"
	"os"
	"os/signal"
	"sync"

	"github.com/austinwade/sitechat/config"
	"github.com/austinwade/sitechat/filter"
	"github.com/austinwade/sitechat/globals"
	"github.com/austinwade/sitechat/httpapi"
	"github.com/austinwade/sitechat/persistence"
	"github.com/austinwade/sitechat/types"
	"github.com/austinwade/sitechat/ws"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8000", "service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")

	hubs     map[string]*ws.Hub = make(map[string]*ws.Hub)
	hubsLock sync.RWMutex
)

func main() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		globals.AppLogger.Info("interrupted")
		os.Exit(0)
	}()

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	if globalConfig.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	}
	if globalConfig.AuthConfig.AppSecret == "" {
		panic("auth.app_secret must be configured")
	}

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	if persister == nil {
		panic("no persistence configured")
	}
	defer persister.Close()

	rooms, err := persister.GetRooms()
	if err != nil {
		panic(err)
	}
	if len(rooms) == 0 {
		// no room in the db, create a default room
		room := &types.Room{Id: "general", Name: "General"}
		if err := persister.StoreRoom(*room); err != nil {
			panic(err)
		}
		rooms = []*types.Room{room}
	}

	for _, room := range rooms {
		globals.AppLogger.Debug("creating room hub", "room", room.Id)
		hub := ws.NewHub(room.Id)
		hubs[room.Id] = hub
		go hub.Run()
	}

	lookup := func(roomId string) *ws.Hub {
		hubsLock.RLock()
		defer hubsLock.RUnlock()
		return hubs[roomId]
	}

	contentFilter := filter.New(globalConfig.FilterConfig)
	api := httpapi.New(persister, contentFilter, lookup, globalConfig.AuthConfig, globalConfig.ChatConfig)
	http.Handle("/", api.Router())

	globals.AppLogger.Info("listening", "addr", *addr)
	if *sslCert != "" && *sslKey != "" {
		err = http.ListenAndServeTLS(*addr, *sslCert, *sslKey, nil)
	} else {
		err = http.ListenAndServe(*addr, nil)
	}
	globals.AppLogger.Error("stopped listening", "error", err)
}
