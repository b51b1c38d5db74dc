// Package main is a diagnostic tool for testing database connectivity and
// inspecting live panel data. It connects to the database, queries the
// access_keys, access_accounts, and assignments tables, and prints a summary
// to stdout. The binary exits with a non-zero code on any failure so it can
// be embedded in health checks or CI/CD pipeline steps to gate deployments on
// a reachable, populated database.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	dbPassword := os.Getenv("DATABASE_PASSWORD")
	if dbPassword == "" {
		dbPassword = "keypanel"
	}

	connStr := fmt.Sprintf("host=localhost port=5432 user=keypanel password=%s dbname=keypanel sslmode=disable", dbPassword)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	// Check keys
	fmt.Println("=== ACCESS KEYS ===")
	rows, err := db.Query("SELECT id, code, key_type, status FROM access_keys")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, code, keyType, status string
		if err := rows.Scan(&id, &code, &keyType, &status); err != nil {
			log.Printf("Warning: failed to scan key row: %v", err)
			continue
		}
		fmt.Printf("Key: %s [%s] %s (ID: %s)\n", code, keyType, status, id)
	}

	// Check accounts
	fmt.Println("\n=== ACCOUNTS ===")
	rows2, err := db.Query("SELECT id, username, expires_at, active FROM access_accounts")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows2.Close()

	accountCount := 0
	for rows2.Next() {
		var id, username, expiresAt string
		var active bool
		if err := rows2.Scan(&id, &username, &expiresAt, &active); err != nil {
			log.Printf("Warning: failed to scan account row: %v", err)
			continue
		}
		state := "inactive"
		if active {
			state = "active"
		}
		fmt.Printf("Account: %s expires=%s %s (ID: %s)\n", username, expiresAt, state, id)
		accountCount++
	}

	if accountCount == 0 {
		fmt.Println("No accounts found!")
	}

	// Check active assignments
	fmt.Println("\n=== ACTIVE ASSIGNMENTS ===")
	var assignmentCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM assignments WHERE active = true").Scan(&assignmentCount); err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("Active assignments: %d\n", assignmentCount)
}
