package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/austinwade/sitechat/auth"
	"github.com/austinwade/sitechat/config"
	"github.com/austinwade/sitechat/filter"
	"github.com/austinwade/sitechat/globals"
	"github.com/austinwade/sitechat/identity"
	"github.com/austinwade/sitechat/presence"
	"github.com/austinwade/sitechat/session"
	"github.com/austinwade/sitechat/store"
	"github.com/austinwade/sitechat/types"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
)

// Terminal chat client. Mostly a demonstration of the session controller, the
// site frontend drives the same core.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	baseURL    = pflag.String("url", "http://localhost:8000", "base URL of the chat server")
)

type printingHandler struct {
	controller *session.Controller
}

func (h *printingHandler) OnConnectionStateChange(state types.ConnectionState) {
	fmt.Printf("* connection %s\n", state)
	h.controller.OnConnectionStateChange(state)
}

func (h *printingHandler) OnEvent(evt *types.Event) {
	h.controller.OnEvent(evt)
	switch evt.Kind {
	case types.WireEventNewMessage:
		fmt.Printf("%s: %s\n", evt.Message.AuthorName, evt.Message.Content)
	case types.WireEventSubscriptionSucceeded:
		fmt.Printf("* %d online\n", h.controller.OnlineCount())
	case types.WireEventMemberAdded:
		fmt.Printf("* %s joined\n", evt.Member.DisplayName)
	case types.WireEventMemberRemoved:
		fmt.Printf("* %s left\n", evt.Member.DisplayName)
	}
}

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	if globalConfig.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	} else {
		globals.AppLogger.SetLevel(hclog.Error)
	}

	identStore, err := identity.NewStore(globalConfig.IdentityConfig.StorePath())
	if err != nil {
		panic(err)
	}
	defer identStore.Close()
	ident, err := identStore.Load()
	if err != nil {
		panic(err)
	}

	wsURL := strings.Replace(*baseURL, "http", "ws", 1) + "/chat"
	authorizer := auth.NewHTTPAuthorizer(*baseURL + "/api/chat/auth")
	contentFilter := filter.New(globalConfig.FilterConfig)
	httpStore := store.NewHTTPStore(*baseURL)

	handler := &printingHandler{}
	realtime := presence.NewClient(wsURL, authorizer, handler)
	controller, err := session.NewController(globalConfig.ChatConfig, httpStore, contentFilter, realtime, ident, identStore)
	if err != nil {
		panic(err)
	}
	handler.controller = controller

	if err := controller.Start(); err != nil {
		panic(err)
	}
	defer controller.Close()
	if err := controller.LoadRooms(); err != nil {
		fmt.Fprintf(os.Stderr, "could not load rooms: %s\n", err)
	}

	fmt.Printf("connected as %s (%s)\n", ident.DisplayName, ident.UserId)
	fmt.Println("commands: /rooms, /join <room>, /nick <name>, /who, /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return

		case line == "/rooms":
			for _, room := range controller.Rooms() {
				marker := " "
				if room.Id == controller.CurrentRoomId() {
					marker = "*"
				}
				fmt.Printf("%s %s (%d messages)\n", marker, room.Id, room.MessageCount)
			}

		case strings.HasPrefix(line, "/join "):
			controller.SelectRoom(strings.TrimSpace(strings.TrimPrefix(line, "/join ")))

		case strings.HasPrefix(line, "/nick "):
			nick := strings.TrimSpace(strings.TrimPrefix(line, "/nick "))
			if err := controller.SetDisplayName(nick); err != nil {
				fmt.Printf("! %s\n", err)
			}

		case line == "/who":
			for _, member := range controller.OnlineMembers() {
				fmt.Printf("- %s\n", member.DisplayName)
			}

		case line != "":
			controller.Send(line)
			if notice := controller.Notice(); notice != "" {
				fmt.Printf("! %s\n", notice)
			}
		}
	}
}
