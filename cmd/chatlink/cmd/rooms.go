package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nfrund/chatlink/internal/domain"
	"github.com/nfrund/chatlink/internal/rest"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List or create chat rooms",
}

var roomsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every room on the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps := newApp()
		defer deps.Close()

		if deps.Session.Restore(cmd.Context()) == nil {
			return domain.ErrNotLoggedIn
		}

		rooms, err := deps.API.Rooms(cmd.Context())
		if err != nil {
			return err
		}
		printRooms(rooms)
		return nil
	},
}

var roomsCreateCmd = &cobra.Command{
	Use:   "create <name> [description]",
	Short: "Create a room",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps := newApp()
		defer deps.Close()

		if deps.Session.Restore(cmd.Context()) == nil {
			return domain.ErrNotLoggedIn
		}

		req := rest.CreateRoomRequest{Name: args[0]}
		if len(args) > 1 {
			req.Description = args[1]
		}
		room, err := deps.API.CreateRoom(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Printf("Created room %s (id %s)\n", room.Name, room.ID)
		return nil
	},
}

func printRooms(rooms []domain.RoomRef) {
	if len(rooms) == 0 {
		fmt.Println("No rooms available")
		return
	}
	for _, room := range rooms {
		line := fmt.Sprintf("  [%s] %s (%d member", room.ID, room.Name, room.MemberCount)
		if room.MemberCount != 1 {
			line += "s"
		}
		line += ")"
		if room.Description != "" {
			line += " - " + room.Description
		}
		fmt.Println(line)
	}
}

func init() {
	roomsCmd.AddCommand(roomsListCmd)
	roomsCmd.AddCommand(roomsCreateCmd)
	rootCmd.AddCommand(roomsCmd)
}
