// snasctl is the command-line client for a SNAS server. Administrative
// commands and credential checks go over the messaging fabric; the verify and
// change-password commands can alternatively use a local server socket.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/snasd/snas/internal/client"
)

var (
	flagNatsHost     string
	flagNatsPort     int
	flagCredsFile    string
	flagNatsUser     string
	flagNatsPassword string
	flagAdminPrefix  string
	flagUserPrefix   string
	flagTimeout      time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "snasctl",
		Short:         "Manage and query a SNAS credential server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flagNatsHost, "nats-host", "127.0.0.1", "NATS server host")
	pf.IntVar(&flagNatsPort, "nats-port", 4222, "NATS server port")
	pf.StringVar(&flagCredsFile, "creds", "", "path to a NATS credentials file")
	pf.StringVar(&flagNatsUser, "nats-user", "", "username for NATS authentication")
	pf.StringVar(&flagNatsPassword, "nats-password", "", "password for NATS authentication")
	pf.StringVar(&flagAdminPrefix, "admin-prefix", "", "subject prefix for the admin API (default snas.admin)")
	pf.StringVar(&flagUserPrefix, "user-prefix", "", "subject prefix for the user API (default snas.user)")
	pf.DurationVar(&flagTimeout, "timeout", client.DefaultRequestTimeout, "request timeout")

	root.AddCommand(
		newAddCmd(),
		newDeleteCmd(),
		newListCmd(),
		newGetCmd(),
		newAddGroupsCmd(),
		newRemoveGroupsCmd(),
		newSetPasswordCmd(),
		newForceResetCmd(),
		newResetPasswordCmd(),
		newVerifyCmd(),
		newChangePasswordCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// connect dials NATS and wraps the connection in an API client. The returned
// closer drains the connection.
func connect() (*client.NatsClient, func(), error) {
	opts := []nats.Option{nats.Name("snasctl")}
	if flagCredsFile != "" {
		opts = append(opts, nats.UserCredentials(flagCredsFile))
	} else if flagNatsUser != "" {
		opts = append(opts, nats.UserInfo(flagNatsUser, flagNatsPassword))
	}
	url := fmt.Sprintf("nats://%s:%d", flagNatsHost, flagNatsPort)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	c, err := client.NewNatsClient(nc, flagAdminPrefix, flagUserPrefix, flagTimeout)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return c, func() { _ = nc.Drain() }, nil
}

// promptPassword reads a password from the terminal without echo.
func promptPassword(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// promptNewPassword prompts twice and requires both entries to match.
func promptNewPassword(label string) (string, error) {
	first, err := promptPassword(label)
	if err != nil {
		return "", err
	}
	second, err := promptPassword(label + " (again)")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passwords do not match")
	}
	return first, nil
}
