// Command mint issues an operator token for the resolution endpoints.
// Tokens are minted out of band with the secret the server was started
// with and passed as a Bearer header; the server has no issuance route.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/pledgefund/backend/internal/auth"
)

type opts struct {
	Operator string        `long:"operator" required:"true" description:"operator name embedded in the token"`
	Secret   string        `long:"jwt-secret" env:"PLEDGEFUND_JWT_SECRET" required:"true" description:"signing secret shared with the server"`
	TTL      time.Duration `long:"ttl" default:"12h" env:"PLEDGEFUND_TOKEN_TTL" description:"token lifetime"`
}

func main() {
	var o opts
	if _, err := flags.Parse(&o); err != nil {
		os.Exit(1)
	}

	token, err := auth.NewJWTManager(o.Secret, o.TTL).Generate(o.Operator)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to mint token:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
