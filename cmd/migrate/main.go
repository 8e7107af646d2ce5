package main

import (
	"context"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set.")
	}

	conn, err := pgx.Connect(context.Background(), dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v\n", err)
	}
	defer conn.Close(context.Background())

	log.Println("Connected to database.")

	_, err = conn.Exec(context.Background(), `
CREATE TABLE IF NOT EXISTS reconcile_runs (
	id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	dry_run BOOLEAN NOT NULL DEFAULT false,
	seeds BIGINT[] NOT NULL,
	applied INT NOT NULL DEFAULT 0,
	skipped INT NOT NULL DEFAULT 0,
	failed INT NOT NULL DEFAULT 0
);
	`)
	if err != nil {
		log.Fatalf("Failed to create reconcile_runs table: %v\n", err)
	}
	log.Println("Runs table is ready.")

	_, err = conn.Exec(context.Background(), `
CREATE TABLE IF NOT EXISTS reconcile_outcomes (
	id BIGSERIAL PRIMARY KEY,
	run_id UUID NOT NULL REFERENCES reconcile_runs(id) ON DELETE CASCADE,
	ticket_id BIGINT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('applied', 'skipped', 'failed')),
	reason TEXT
);
CREATE INDEX IF NOT EXISTS reconcile_outcomes_run_id_idx ON reconcile_outcomes (run_id);
CREATE INDEX IF NOT EXISTS reconcile_outcomes_ticket_id_idx ON reconcile_outcomes (ticket_id);
	`)
	if err != nil {
		log.Fatalf("Failed to create reconcile_outcomes table: %v\n", err)
	}
	log.Println("Outcomes table is ready.")

	log.Println("Migration completed successfully.")
}
