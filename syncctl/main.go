package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"golang.org/x/term"

	"tessera.dev/sync/transport"
)

const Version = "0.0.1"

func main() {
	usage := `Tessera sync control.

Usage:
    syncctl status [--url=<url>]
    syncctl mint-jwt --client_id=<client_id> [--name=<name>] [--secret=<secret>]
        [--expiration_hours=<expiration_hours>]

Options:
    -h --help                                Show this screen.
    --version                                Show version.
    --url=<url>                              Server url [default: http://localhost:8080].
    --client_id=<client_id>                  Client id claim.
    --name=<name>                            Display name claim.
    --secret=<secret>                        JWT signing secret. Prompted when omitted.
    --expiration_hours=<expiration_hours>    Token lifetime in hours. 0 never expires [default: 24].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}

	if status_, _ := opts.Bool("status"); status_ {
		status(opts)
	} else if mintJwt_, _ := opts.Bool("mint-jwt"); mintJwt_ {
		mintJwt(opts)
	}
}

func status(opts docopt.Opts) {
	url, _ := opts.String("--url")

	res, err := http.Get(fmt.Sprintf("%s/status", url))
	if err != nil {
		fmt.Fprintf(os.Stderr, "status error: %s\n", err)
		os.Exit(1)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status error: %s\n", err)
		os.Exit(1)
	}

	out := map[string]any{}
	if err := json.Unmarshal(body, &out); err != nil {
		fmt.Printf("%s\n", string(body))
		return
	}
	pretty, _ := json.MarshalIndent(out, "", "    ")
	fmt.Printf("%s\n", string(pretty))
}

func mintJwt(opts docopt.Opts) {
	clientId, _ := opts.String("--client_id")
	name, _ := opts.String("--name")
	expirationHours, _ := opts.Int("--expiration_hours")

	var secret string
	if secretAny := opts["--secret"]; secretAny != nil {
		secret = secretAny.(string)
	} else {
		fmt.Print("secret: ")
		secretBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Print("\n")
		if err != nil {
			fmt.Fprintf(os.Stderr, "secret error: %s\n", err)
			os.Exit(1)
		}
		secret = string(secretBytes)
	}

	tokenStr, err := transport.MintClientJwt(
		[]byte(secret),
		&transport.ClientJwt{
			ClientId: clientId,
			Name:     name,
		},
		time.Duration(expirationHours)*time.Hour,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mint error: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s\n", tokenStr)
}
