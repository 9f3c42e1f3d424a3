package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/alertflow/internal/config"
	"github.com/ignite/alertflow/internal/domain"
	"github.com/ignite/alertflow/internal/store"
)

// column aliases as they appear in the monitoring team's exports
var columnAliases = map[string]string{
	"triggername":              "trigger",
	"trigger name":             "trigger",
	"category":                 "category",
	"priority":                 "priority",
	"informational/actionable": "actionable",
	"actionable":               "actionable",
	"recommended actions":      "action",
	"recommended action":       "action",
	"team":                     "team",
	"department":               "department",
	"responsible person":       "responsible",
	"responsible persons":      "responsible",
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <trigger-export.csv>\n", os.Args[0])
		os.Exit(2)
	}
	path := os.Args[1]

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	mappings, err := readExport(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	log.Printf("Parsed %d rows from %s", len(mappings), path)

	db, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	count, err := store.New(db).Triggers.ReplaceAll(ctx, mappings)
	if err != nil {
		log.Fatalf("replace trigger mappings: %v", err)
	}
	fmt.Printf("Loaded %d trigger mappings\n", count)
}

// readExport parses the CSV export. The header row decides column
// positions; unknown columns are ignored.
func readExport(path string) ([]domain.TriggerMapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // exports often have ragged trailing columns

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := map[string]int{}
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if canonical, ok := columnAliases[key]; ok {
			index[canonical] = i
		}
	}
	if _, ok := index["trigger"]; !ok {
		return nil, fmt.Errorf("no trigger name column in header %v", header)
	}
	if _, ok := index["team"]; !ok {
		return nil, fmt.Errorf("no team column in header %v", header)
	}

	field := func(record []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var out []domain.TriggerMapping
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		out = append(out, domain.TriggerMapping{
			TriggerName:        field(record, "trigger"),
			Category:           field(record, "category"),
			Priority:           field(record, "priority"),
			Actionable:         field(record, "actionable"),
			RecommendedAction:  field(record, "action"),
			Team:               field(record, "team"),
			Department:         field(record, "department"),
			ResponsiblePersons: field(record, "responsible"),
		})
	}
	return out, nil
}
