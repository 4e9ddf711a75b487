//go:build ignore

// void_stale_rounds lists rounds stuck before settlement and, with -void,
// marks them voided so the engine's recovery skips them. Bets are not
// refunded here; start the server afterwards or use the admin API.
//
//	go run scripts/void_stale_rounds.go -older-than 10m [-void]
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	olderThan := flag.Duration("older-than", 10*time.Minute, "only rounds created before now minus this")
	void := flag.Bool("void", false, "void the listed rounds instead of only printing them")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		os.Getenv("DB_HOST"), os.Getenv("DB_PORT"), os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"), os.Getenv("DB_NAME"))

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	cutoff := time.Now().Add(-*olderThan)
	rows, err := db.Query(`
		SELECT r.id, r.nonce, r.status, r.created_at, COUNT(b.id)
		FROM rounds r
		LEFT JOIN bets b ON b.round_id = r.id AND b.status = 'active'
		WHERE r.status IN ('committed', 'betting', 'running')
		  AND r.created_at < $1
		GROUP BY r.id, r.nonce, r.status, r.created_at
		ORDER BY r.nonce`, cutoff)
	if err != nil {
		log.Fatalf("Failed to query rounds: %v", err)
	}

	var ids []string
	for rows.Next() {
		var (
			id, status string
			nonce      int64
			created    time.Time
			openBets   int
		)
		if err := rows.Scan(&id, &nonce, &status, &created, &openBets); err != nil {
			log.Fatalf("Failed to scan round: %v", err)
		}
		fmt.Printf("round %-6d %s  %-10s created %s  open bets %d\n", nonce, id, status, created.Format(time.RFC3339), openBets)
		if openBets > 0 {
			// the engine refunds these on recovery; voiding here would strand the stakes
			continue
		}
		ids = append(ids, id)
	}
	rows.Close()

	if !*void || len(ids) == 0 {
		fmt.Printf("%d rounds can be voided\n", len(ids))
		return
	}

	tx, err := db.Begin()
	if err != nil {
		log.Fatalf("Failed to begin: %v", err)
	}
	voided := 0
	for _, id := range ids {
		res, err := tx.Exec(`
			UPDATE rounds SET status = 'voided', void_reason = 'voided by operator script', updated_at = NOW()
			WHERE id = $1 AND status IN ('committed', 'betting', 'running')
			AND NOT EXISTS (SELECT 1 FROM bets WHERE round_id = $1 AND status = 'active')`, id)
		if err != nil {
			tx.Rollback()
			log.Fatalf("Failed to void %s: %v", id, err)
		}
		n, _ := res.RowsAffected()
		voided += int(n)
	}
	if err := tx.Commit(); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}
	fmt.Printf("Voided %d rounds\n", voided)
}
