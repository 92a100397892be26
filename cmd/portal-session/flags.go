package main

import "github.com/urfave/cli"

const (
	flagConfig       = "config"
	flagsConfig      = "config, c"
	flagDemo         = "demo"
	flagOutput       = "output"
	flagsOutput      = "output, o"
	flagRefreshToken = "refresh-token"
	flagRevokeRemote = "remote"
	flagToken        = "token"
	flagsToken       = "token, t"
)

var (
	cliFlagOutput = cli.StringFlag{
		Name:  flagsOutput,
		Usage: "Return output in another format. Supported formats: text, json",
		Value: "text",
	}
)
