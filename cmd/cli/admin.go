package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snasd/snas/internal/api"
)

func newAddCmd() *cobra.Command {
	var groups []string
	var forceReset bool
	var password string
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw := password
			if pw == "" {
				var err error
				if pw, err = promptNewPassword("Password"); err != nil {
					return err
				}
			}
			c, closer, err := connect()
			if err != nil {
				return err
			}
			defer closer()
			msg, err := c.AddUser(cmd.Context(), args[0], pw, groups, forceReset)
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&groups, "groups", nil, "groups for the new user")
	cmd.Flags().BoolVar(&forceReset, "force-reset", false, "require a password change on first login")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <username>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closer, err := connect()
			if err != nil {
				return err
			}
			defer closer()
			msg, err := c.DeleteUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all usernames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closer, err := connect()
			if err != nil {
				return err
			}
			defer closer()
			users, err := c.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Println(u)
			}
			return nil
		},
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <username>",
		Short: "Show a user's groups and reset status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closer, err := connect()
			if err != nil {
				return err
			}
			defer closer()
			user, err := c.GetUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printUser(user)
			return nil
		},
	}
}

func newAddGroupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-groups <username> <group>...",
		Short: "Add groups to a user",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closer, err := connect()
			if err != nil {
				return err
			}
			defer closer()
			user, err := c.AddGroups(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			printUser(user)
			return nil
		},
	}
}

func newRemoveGroupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-groups <username> <group>...",
		Short: "Remove groups from a user",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closer, err := connect()
			if err != nil {
				return err
			}
			defer closer()
			user, err := c.RemoveGroups(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			printUser(user)
			return nil
		},
	}
}

func newSetPasswordCmd() *cobra.Command {
	var forceReset bool
	var password string
	cmd := &cobra.Command{
		Use:   "set-password <username>",
		Short: "Set a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw := password
			if pw == "" {
				var err error
				if pw, err = promptNewPassword("New password"); err != nil {
					return err
				}
			}
			c, closer, err := connect()
			if err != nil {
				return err
			}
			defer closer()
			msg, err := c.SetPassword(cmd.Context(), args[0], pw, forceReset)
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		},
	}
	cmd.Flags().BoolVar(&forceReset, "force-reset", false, "require a password change on next login")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	return cmd
}

func newForceResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force-reset <username>",
		Short: "Require a password change on the user's next login",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closer, err := connect()
			if err != nil {
				return err
			}
			defer closer()
			msg, err := c.ForceReset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		},
	}
}

func newResetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password <username>",
		Short: "Reset a user's password to a generated temporary one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, closer, err := connect()
			if err != nil {
				return err
			}
			defer closer()
			temp, err := c.ResetPassword(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Temporary password: %s\n", temp)
			fmt.Println("The user must change it on next login.")
			return nil
		},
	}
}

func printUser(user *api.UserSummary) {
	fmt.Printf("username: %s\n", user.Username)
	fmt.Printf("groups: %s\n", strings.Join(user.Groups, ", "))
	fmt.Printf("needs_password_reset: %t\n", user.NeedsPasswordReset)
}
