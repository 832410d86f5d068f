package cli

import (
	"fmt"

	"github.com/flockhq/flock/types"
	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var (
	userEmail  string
	userName   string
	userRole   string
	userChurch string
)

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user, optionally in a new church",
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := types.ParseRole(userRole)
		if err != nil {
			return err
		}

		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		user := &types.User{
			Email: userEmail,
			Name:  userName,
			Role:  role,
		}

		if userChurch != "" {
			church := &types.Church{Name: userChurch}
			if err := db.CreateChurch(cmd.Context(), church); err != nil {
				return err
			}
			user.ChurchID = types.NewNullUUID(church.ID)
		}

		if err := db.CreateUser(cmd.Context(), user); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", user.Role, user.Email, user.ID)
		return nil
	},
}

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "email address")
	userCreateCmd.Flags().StringVar(&userName, "name", "", "display name")
	userCreateCmd.Flags().StringVar(&userRole, "role", string(types.RoleMember), "super_admin, church_admin, leader or member")
	userCreateCmd.Flags().StringVar(&userChurch, "church", "", "create a church with this name for the user")
	userCreateCmd.MarkFlagRequired("email")
	userCreateCmd.MarkFlagRequired("name")

	userCmd.AddCommand(userCreateCmd)
}
