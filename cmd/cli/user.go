package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snasd/snas/internal/api"
	"github.com/snasd/snas/internal/client"
)

func newVerifyCmd() *cobra.Command {
	var socketPath string
	var password string
	cmd := &cobra.Command{
		Use:   "verify <username>",
		Short: "Check a username and password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw := password
			if pw == "" {
				var err error
				if pw, err = promptPassword("Password"); err != nil {
					return err
				}
			}

			var res *api.VerificationResponse
			if socketPath != "" {
				sc, err := client.DialSocket(socketPath)
				if err != nil {
					return err
				}
				defer sc.Close()
				res, err = sc.Verify(args[0], pw)
				if err != nil {
					return err
				}
			} else {
				c, closer, err := connect()
				if err != nil {
					return err
				}
				defer closer()
				res, err = c.Verify(cmd.Context(), args[0], pw)
				if err != nil {
					return err
				}
			}

			if !res.Valid {
				return fmt.Errorf("%s", res.Message)
			}
			fmt.Println("Credentials valid")
			fmt.Printf("groups: %s\n", strings.Join(res.Groups, ", "))
			if res.NeedsPasswordReset {
				fmt.Println("A password change is required before the account is usable.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket", "", "use the local server socket at this path instead of NATS")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	return cmd
}

func newChangePasswordCmd() *cobra.Command {
	var socketPath string
	cmd := &cobra.Command{
		Use:   "change-password <username>",
		Short: "Change your own password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			old, err := promptPassword("Current password")
			if err != nil {
				return err
			}
			next, err := promptNewPassword("New password")
			if err != nil {
				return err
			}

			if socketPath != "" {
				sc, err := client.DialSocket(socketPath)
				if err != nil {
					return err
				}
				defer sc.Close()
				if err := sc.ChangePassword(args[0], old, next); err != nil {
					return err
				}
			} else {
				c, closer, err := connect()
				if err != nil {
					return err
				}
				defer closer()
				if err := c.ChangePassword(cmd.Context(), args[0], old, next); err != nil {
					return err
				}
			}
			fmt.Println("Password changed")
			return nil
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket", "", "use the local server socket at this path instead of NATS")
	return cmd
}
