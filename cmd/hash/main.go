// Package main is a utility for generating the bcrypt hash of the admin
// token. The server stores only the bcrypt hash of the token (the
// auth.admin_token_hash config key / KP_AUTH_ADMIN_TOKEN_HASH), never the raw
// value, so this tool is used when provisioning a new deployment or rotating
// the admin token.
package main

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <admin-token>\n", os.Args[0])
		os.Exit(1)
	}
	token := os.Args[1]
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	fmt.Println(string(hash))
}
