package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nfrund/chatlink/internal/session"
)

var loginCmd = &cobra.Command{
	Use:   "login <username> <password>",
	Short: "Authenticate and store the session locally",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps := newApp()
		defer deps.Close()

		id, err := deps.Session.Login(cmd.Context(), args[0], args[1])
		if err != nil {
			return describeAuthError(err)
		}
		fmt.Printf("Logged in as %s (user id %s)\n", id.Username, id.UserID)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <username> <email> <password>",
	Short: "Create an account and log in",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps := newApp()
		defer deps.Close()

		id, err := deps.Session.Register(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return describeAuthError(err)
		}
		fmt.Printf("Registered and logged in as %s\n", id.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and clear stored credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps := newApp()
		defer deps.Close()

		if err := deps.Session.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

// describeAuthError keeps validation output field-scoped instead of dumping
// one generic failure line.
func describeAuthError(err error) error {
	var verr *session.ValidationError
	if errors.As(err, &verr) {
		for field, msg := range verr.Fields {
			fmt.Printf("  %s: %s\n", field, msg)
		}
		return errors.New("input validation failed")
	}
	return err
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
}
