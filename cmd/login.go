// cmd/login.go
package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/apiclient"
	"github.com/xkilldash9x/webtrail/internal/config"
	"github.com/xkilldash9x/webtrail/internal/observability"
	"github.com/xkilldash9x/webtrail/internal/router"
	"github.com/xkilldash9x/webtrail/internal/store"
)

// newLoginCmd creates and configures the `login` command.
func newLoginCmd() *cobra.Command {
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticates against the collector and stores the token pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			reader := bufio.NewReader(cmd.InOrStdin())
			if username == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Username: ")
				if username, err = readLine(reader); err != nil {
					return err
				}
			}
			if password == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Password: ")
				if password, err = readLine(reader); err != nil {
					return err
				}
			}

			logger := observability.GetLogger()
			ctx := cmd.Context()

			storePath, err := cfg.StorePath()
			if err != nil {
				return err
			}
			durable, err := store.OpenDurable(ctx, storePath, logger)
			if err != nil {
				return err
			}
			defer durable.Close()

			gateway := store.NewGateway(durable, store.NewSession())
			client := apiclient.New(cfg, gateway, logger)
			rtr := router.New(cfg, client, gateway, durable, logger)

			resp := rtr.Login(ctx, username, password)
			if !resp.OK {
				switch resp.Reason {
				case schemas.LoginBadUsername:
					return fmt.Errorf("login failed: unknown username")
				case schemas.LoginBadPassword:
					return fmt.Errorf("login failed: wrong password")
				default:
					return fmt.Errorf("login failed: could not reach %s", cfg.Auth.BaseURL)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", username)
			return nil
		},
	}

	loginCmd.Flags().StringP("username", "u", "", "collector username")
	loginCmd.Flags().StringP("password", "p", "", "collector password (prompted when omitted)")
	return loginCmd
}

// newLogoutCmd creates and configures the `logout` command.
func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clears the stored credential set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			ctx := cmd.Context()

			storePath, err := cfg.StorePath()
			if err != nil {
				return err
			}
			durable, err := store.OpenDurable(ctx, storePath, logger)
			if err != nil {
				return err
			}
			defer durable.Close()

			gateway := store.NewGateway(durable, store.NewSession())
			client := apiclient.New(cfg, gateway, logger)
			rtr := router.New(cfg, client, gateway, durable, logger)

			if err := rtr.Logout(ctx); err != nil {
				return fmt.Errorf("clearing credentials: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
