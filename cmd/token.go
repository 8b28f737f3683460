package cmd

import (
	"fmt"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/api"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var tokenCmd = &cobra.Command{
	Use:   "token <client-id>",
	Short: "Issue a bearer token bound to a client id",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fl := NewFlagLoader(cmd)
		secret := fl.String("jwt_secret")
		if secret == "" {
			logger.Fatal().Msg("jwt_secret is required")
		}
		token, err := api.GenerateToken(args[0], []byte(secret), fl.Duration("token_validity"))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to sign token")
		}
		fmt.Println(token)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	f := tokenCmd.Flags()
	f.String("jwt_secret", "", "HS256 secret shared with the server (prefer JWT_SECRET)")
	f.Duration("token_validity", 24*time.Hour, "Token lifetime")
	viper.BindPFlags(f)
}
