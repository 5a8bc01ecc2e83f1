// Command seed loads records into the data source table the coordinator reads from.
//
// The input is a JSON object mapping keys to payloads:
//
//	seed -file records.json
//	echo '{"user:1":"{\"name\":\"ada\"}"}' | seed
package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"cache-coordinator/internal/config"
	"cache-coordinator/internal/source"
)

func main() {
	_ = godotenv.Load()

	file := flag.String("file", "", "JSON file to load (default: stdin)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	var in io.Reader = os.Stdin
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		in = f
	}

	var records map[string]string
	if err := json.NewDecoder(in).Decode(&records); err != nil {
		log.Fatalf("Failed to decode records: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	driver, dsn := cfg.DatabaseDSN()
	src, err := source.Open(ctx, driver, dsn, cfg.SourceTable)
	if err != nil {
		log.Fatal(err)
	}
	defer src.Close()

	now := time.Now().UTC()
	for key, payload := range records {
		if err := src.Upsert(ctx, source.Record{Key: key, Payload: payload, UpdatedAt: now}); err != nil {
			log.Fatal(err)
		}
	}
	log.Printf("Loaded %d records into %s", len(records), cfg.SourceTable)
}
