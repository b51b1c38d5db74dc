// Package main is a development utility for generating a test access key code
// with a ready-to-run SQL INSERT statement, so developers can quickly seed a
// redeemable key in a local database without running the full server flow. Do
// not use generated keys in production: create keys through the admin API so
// they get audited like everything else.
package main

import (
	"crypto/rand"
	"fmt"
	"log"
)

// codeAlphabet omits easily confused characters (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

func randomGroup(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		log.Fatal(err)
	}
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(buf)
}

func main() {
	code := fmt.Sprintf("KP-%s-%s", randomGroup(4), randomGroup(4))

	fmt.Println("Generated access key code:")
	fmt.Printf("  %s\n\n", code)
	fmt.Println("Seed it into a local database with:")
	fmt.Printf("  INSERT INTO access_keys (id, code, key_type, account_capacity, status)\n")
	fmt.Printf("  VALUES (gen_random_uuid(), '%s', 'one_slot', 1, 'waiting');\n", code)
}
