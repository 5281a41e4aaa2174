// Command clienttoken mints the bearer token mobile clients present on the
// OTP endpoints.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"keyless-recovery/internal/config"
	"keyless-recovery/internal/token"
)

func main() {
	app := &cli.App{
		Name:  "clienttoken",
		Usage: "Sign a client token with the server's JWT key material",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "env-file",
				Usage:   "dotenv files holding JWT_SECRET or JWT_PRIVATE_KEY_PATH",
				EnvVars: []string{"ENV_FILE"},
			},
			&cli.StringFlag{
				Name:     "client-id",
				Usage:    "identifier of the client application",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "app-version",
				Value: token.AppVersion,
				Usage: "application version embedded in the token",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "token lifetime; zero issues a token without expiry",
			},
		},
		Action: func(cCtx *cli.Context) error {
			cfg := config.LoadConfig(cCtx.StringSlice("env-file")...)

			signer, err := token.NewSigner(cfg.JWT)
			if err != nil {
				return err
			}

			signed, err := signer.Sign(token.ClientClaims(
				cCtx.String("client-id"),
				cCtx.String("app-version"),
				cCtx.Duration("ttl"),
			))
			if err != nil {
				return fmt.Errorf("failed to sign client token: %w", err)
			}

			fmt.Fprintln(cCtx.App.Writer, signed)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
