package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "portal-session"
	app.Usage = "Keep a video portal session signed in"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   flagsConfig,
			Usage:  "Read settings from an env-format file (default ./.env if present)",
			EnvVar: "PORTAL_CONFIG",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "serve",
			Usage: "Serve the login routes and an authenticated API proxy",
			Description: "Serves /login, /register, /auth/callback, /logout and /session, " +
				"proxies /api/ to the portal with the session's credential and exposes " +
				"/metrics.",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  flagDemo,
					Usage: "Run an in-process fake portal and sign in as its demo user",
				},
			},
			Action: serve,
		},
		{
			Name:   "status",
			Usage:  "Restore the stored session and show who is signed in",
			Flags:  []cli.Flag{cliFlagOutput},
			Action: status,
		},
		{
			Name:        "login",
			Usage:       "Start a session from a token pair issued by the identity provider",
			Description: "Use this when the provider's callback cannot reach this machine.",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  flagsToken,
					Usage: "The access token from the callback",
				},
				cli.StringFlag{
					Name:  flagRefreshToken,
					Usage: "The refresh token from the callback, if any",
				},
			},
			Action: loginWithTokens,
		},
		{
			Name:   "refresh",
			Usage:  "Exchange the stored refresh token for a new pair now",
			Action: refresh,
		},
		{
			Name:  "logout",
			Usage: "Sign out and forget the stored credentials",
			Flags: []cli.Flag{
				cli.BoolTFlag{
					Name:  flagRevokeRemote,
					Usage: "Also revoke the refresh token at the portal",
				},
			},
			Action: logout,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "\n%s\n\n", err)
		os.Exit(1)
	}
}
