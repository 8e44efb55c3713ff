package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/austinwade/sitechat/config"
	"github.com/austinwade/sitechat/globals"
	"github.com/austinwade/sitechat/persistence"
	"github.com/austinwade/sitechat/types"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// A very simple CLI tool for the administration of sitechat rooms and messages.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
)

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
	}

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	if persister == nil {
		panic("no persistence configured")
	}
	defer persister.Close()

	var cmdShowRooms = &cobra.Command{
		Use:   "rooms",
		Short: "List rooms",
		Long:  `rooms lists all available rooms with their message counts.`,
		Run: func(cmd *cobra.Command, args []string) {
			rooms, err := persister.GetRooms()
			if err != nil {
				globals.AppLogger.Error("could not get rooms", "error", err)
				return
			}
			r, err := json.Marshal(rooms)
			if err != nil {
				globals.AppLogger.Error("could not marshal rooms", "error", err)
				return
			}
			fmt.Println(string(r))
		},
	}

	var roomName, roomDescription string
	var cmdCreateRoom = &cobra.Command{
		Use:   "create-room [room id]",
		Short: "Create a room",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			room := types.Room{Id: args[0], Name: roomName, Description: roomDescription}
			if room.Name == "" {
				room.Name = room.Id
			}
			if err := persister.StoreRoom(room); err != nil {
				globals.AppLogger.Error("could not store room", "error", err)
				os.Exit(1)
			}
			fmt.Printf("created room %s\n", room.Id)
		},
	}
	cmdCreateRoom.Flags().StringVar(&roomName, "name", "", "display name of the room")
	cmdCreateRoom.Flags().StringVar(&roomDescription, "description", "", "description of the room")

	var cmdDeleteRoom = &cobra.Command{
		Use:   "delete-room [room id]",
		Short: "Delete a room",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			room := types.Room{Id: args[0]}
			if err := persister.DeleteRoom(&room); err != nil {
				globals.AppLogger.Error("could not delete room", "error", err)
				os.Exit(1)
			}
			fmt.Printf("deleted room %s\n", room.Id)
		},
	}

	var cmdPurge = &cobra.Command{
		Use:   "purge [room id]",
		Short: "Delete all messages of a room",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := persister.PurgeMessages(args[0]); err != nil {
				globals.AppLogger.Error("could not purge messages", "error", err)
				os.Exit(1)
			}
			fmt.Printf("purged messages of room %s\n", args[0])
		},
	}

	var cmdHistory = &cobra.Command{
		Use:   "history [room id]",
		Short: "Show the message history of a room",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			messages, err := persister.GetMessageHistory(args[0], 0)
			if err != nil {
				globals.AppLogger.Error("could not get history", "error", err)
				return
			}
			for _, msg := range messages {
				fmt.Printf("%s [%s] %s: %s\n", msg.CreatedAt.Format("2006-01-02 15:04:05"), msg.Id, msg.AuthorName, msg.Content)
			}
		},
	}

	var rootCmd = &cobra.Command{Use: "sitechat-admin"}
	rootCmd.AddCommand(cmdShowRooms, cmdCreateRoom, cmdDeleteRoom, cmdPurge, cmdHistory)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
