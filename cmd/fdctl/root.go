package main

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-oidfed/frontdoor/cmd/frontdoor/config"
	"github.com/go-oidfed/frontdoor/storage/model"
)

type storeOpener func(configFile string) (model.UsersStore, io.Closer, error)

func openStore(configFile string) (model.UsersStore, io.Closer, error) {
	c, err := config.LoadFile(configFile)
	if err != nil {
		return nil, nil, err
	}
	s, err := config.LoadStorage(c)
	if err != nil {
		return nil, nil, err
	}
	return s.UsersStorage(), closerFunc(s.Close), nil
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

type cli struct {
	configFile string
	open       storeOpener
	users      model.UsersStore
	closer     io.Closer
}

func newRootCmd(open storeOpener) *cobra.Command {
	c := &cli{open: open}
	rootCmd := &cobra.Command{
		Use:           "fdctl",
		Short:         "fdctl can help you manage the users of your frontdoor",
		Long:          "fdctl can help you manage the users of your frontdoor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			users, closer, err := c.open(c.configFile)
			if err != nil {
				return err
			}
			c.users = users
			c.closer = closer
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.closer == nil {
				return nil
			}
			return c.closer.Close()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "the config file to use")
	rootCmd.AddCommand(
		c.listCmd(),
		c.addCmd(),
		c.deleteCmd(),
		c.passwdCmd(),
		c.rolesCmd(),
		c.disableCmd(true),
		c.disableCmd(false),
	)
	return rootCmd
}

// readPassword returns the password flag value or, if empty, the first
// line of the command's input
func readPassword(cmd *cobra.Command, password string) (string, error) {
	if password != "" {
		return password, nil
	}
	cmd.Print("Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", errors.WithStack(err)
	}
	password = strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	return password, nil
}
