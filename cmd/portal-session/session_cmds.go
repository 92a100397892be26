package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/panyam/portalauth/client"
)

type statusView struct {
	State          string          `json:"state"`
	Authenticated  bool            `json:"authenticated"`
	Profile        *client.Profile `json:"profile,omitempty"`
	AccessExpires  *time.Time      `json:"access_expires,omitempty"`
	HasRefresh     bool            `json:"has_refresh_token"`
	RefreshPending bool            `json:"refresh_scheduled"`
}

func status(c *cli.Context) error {
	ctx := context.Background()
	manager, closeAll, err := openSession(ctx, c)
	if err != nil {
		return err
	}
	defer closeAll()

	if err := manager.Bootstrap(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Stored session was discarded: %s\n", err)
	}

	snap := manager.Snapshot()
	view := statusView{
		State:          snap.State.String(),
		Authenticated:  snap.IsAuthenticated(),
		Profile:        snap.Profile,
		HasRefresh:     snap.Credentials.HasRefreshToken(),
		RefreshPending: manager.RefreshPending(),
	}
	if exp, ok := client.DecodeExpiry(snap.Credentials.AccessToken); ok {
		view.AccessExpires = &exp
	}

	switch c.String(flagOutput) {
	case "json":
		out, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return errors.Wrap(err, "error formatting output")
		}
		fmt.Println(string(out))
	case "text", "":
		printStatus(view)
	default:
		return fmt.Errorf("unknown output format %q", c.String(flagOutput))
	}
	return nil
}

func printStatus(view statusView) {
	if !view.Authenticated {
		fmt.Println("Not signed in.")
		return
	}
	fmt.Printf("Signed in as %s <%s>\n", view.Profile.Name, view.Profile.Email)
	if view.AccessExpires != nil {
		fmt.Printf("Access token expires %s\n", view.AccessExpires.Local().Format(time.RFC1123))
	}
	if !view.HasRefresh {
		fmt.Println("No refresh token; the session ends when the access token expires.")
	}
}

func loginWithTokens(c *cli.Context) error {
	token := c.String(flagToken)
	if token == "" {
		return errors.New("--token is required")
	}

	ctx := context.Background()
	manager, closeAll, err := openSession(ctx, c)
	if err != nil {
		return err
	}
	defer closeAll()

	profile, err := manager.CompleteLogin(ctx, token, c.String(flagRefreshToken))
	if err != nil {
		return errors.Wrap(err, "error completing login")
	}
	fmt.Printf("Signed in as %s <%s>.\n", profile.Name, profile.Email)
	return nil
}

func refresh(c *cli.Context) error {
	ctx := context.Background()
	manager, closeAll, err := openSession(ctx, c)
	if err != nil {
		return err
	}
	defer closeAll()

	if err := manager.Bootstrap(ctx); err != nil {
		return errors.Wrap(err, "error restoring session")
	}
	if !manager.IsAuthenticated() {
		return errors.New("not signed in")
	}

	creds, err := manager.RefreshSession(ctx)
	if err != nil {
		return errors.Wrap(err, "error refreshing session")
	}
	if exp, ok := client.DecodeExpiry(creds.AccessToken); ok {
		fmt.Printf("Session refreshed. Access token expires %s.\n", exp.Local().Format(time.RFC1123))
	} else {
		fmt.Println("Session refreshed.")
	}
	return nil
}

func logout(c *cli.Context) error {
	ctx := context.Background()
	manager, closeAll, err := openSession(ctx, c)
	if err != nil {
		return err
	}
	defer closeAll()

	if !c.BoolT(flagRevokeRemote) {
		manager.ClearSession()
		fmt.Println("Logged out locally.")
		return nil
	}

	// Loads the stored pair so there is a refresh token to revoke
	if err := manager.Bootstrap(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Stored session was already invalid: %s\n", err)
	}
	manager.Logout(ctx)
	fmt.Println("Logged out.")
	return nil
}
