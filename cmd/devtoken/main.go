package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"sfucore/internal/core/services"
	"sfucore/pkg/config"
)

var (
	flagConfig string
	flagSecret string
	flagRole   string
	flagRooms  []string
	flagTTL    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "devtoken <userId>",
	Short: "Mint a development token for the built-in JWT identity provider",
	Long: `Mint an HS256 token accepted by sfucore when identity.provider is "jwt".

Examples:
  devtoken alice
  devtoken --role admin bob
  devtoken --rooms 42,43 --ttl 1h carol`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := flagSecret
		if secret == "" {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			secret = cfg.Identity.JWTSecret
		}

		token, err := services.NewJWTIdentity(secret).GenerateToken(args[0], flagRole, flagRooms, flagTTL)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "configs/config.yaml", "config file holding identity.jwt_secret")
	rootCmd.Flags().StringVar(&flagSecret, "secret", "", "signing secret; overrides the config file")
	rootCmd.Flags().StringVar(&flagRole, "role", "", `role claim; "admin" administers every room`)
	rootCmd.Flags().StringSliceVar(&flagRooms, "rooms", nil, "rooms the user administers")
	rootCmd.Flags().DurationVar(&flagTTL, "ttl", 24*time.Hour, "token lifetime")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
