package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/cgmelamed/whydatawhy/app/ingest"
)

func main() {
	rowsOnly := flag.Bool("rows", false, "print the parsed rows as JSON instead of the summary")
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatalf("usage: %s [-rows] <file>", filepath.Base(os.Args[0]))
	}

	start := time.Now()
	path := flag.Arg(0)
	content, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("failed to read %s: %v", path, err)
	}

	ds, err := ingest.Parse(filepath.Base(path), content)
	if err != nil {
		log.Fatalf("failed to parse %s: %v", path, err)
	}

	if *rowsOnly {
		out, err := json.MarshalIndent(ds.FirstRows(), "", "  ")
		if err != nil {
			log.Fatalf("failed to encode rows: %v", err)
		}
		fmt.Println(string(out))
	} else {
		fmt.Println(ingest.Summarize(ds))
	}
	log.Printf("%d rows, took %s", ds.RowCount(), time.Since(start))
}
