package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			users, err := c.users.List()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "USERNAME\tDISPLAY NAME\tROLES\tDISABLED")
			for _, u := range users {
				_, _ = fmt.Fprintf(
					w, "%s\t%s\t%s\t%t\n", u.Username, u.DisplayName, strings.Join(u.Roles, ","), u.Disabled,
				)
			}
			return w.Flush()
		},
	}
}

func (c *cli) addCmd() *cobra.Command {
	var password, displayName string
	var roles []string
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Add a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			u, err := c.users.Create(args[0], pw, displayName, roles)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(
				cmd.OutOrStdout(), "added user %s with roles [%s]\n", u.Username, strings.Join(u.Roles, ","),
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "the password; read from stdin if not given")
	cmd.Flags().StringVarP(&displayName, "display-name", "d", "", "the display name")
	cmd.Flags().StringSliceVarP(&roles, "roles", "r", nil, "the roles of the user")
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <username>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.users.Delete(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted user %s\n", args[0])
			return nil
		},
	}
}

func (c *cli) passwdCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "passwd <username>",
		Short: "Change the password of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword(cmd, password)
			if err != nil {
				return err
			}
			if _, err = c.users.Update(args[0], nil, &pw, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "changed password of user %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "the new password; read from stdin if not given")
	return cmd
}

func (c *cli) rolesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roles <username> [role...]",
		Short: "Replace the roles of a user",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := c.users.SetRoles(args[0], args[1:])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(
				cmd.OutOrStdout(), "user %s has roles [%s]\n", u.Username, strings.Join(u.Roles, ","),
			)
			return nil
		},
	}
}

func (c *cli) disableCmd(disable bool) *cobra.Command {
	use, short := "enable", "Enable a user"
	if disable {
		use, short = "disable", "Disable a user"
	}
	return &cobra.Command{
		Use:   use + " <username>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := c.users.Update(args[0], nil, nil, &disable); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%sd user %s\n", use, args[0])
			return nil
		},
	}
}
