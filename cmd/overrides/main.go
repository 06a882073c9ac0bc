package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"gridwatch/internal/repository/sqlite"
)

// overrides lists or clears the manual override pins stored in the server's
// database. Run it while the server is stopped; the server only reads pins
// at startup.
func main() {
	dbPath := flag.String("db", "data/gridwatch.db", "Database path")
	clearAll := flag.Bool("clear", false, "Remove every stored pin")
	flag.Parse()

	if _, err := os.Stat(*dbPath); os.IsNotExist(err) {
		log.Fatalf("Database %s does not exist", *dbPath)
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	repo := sqlite.NewOverrideRepository(db)

	if *clearAll {
		if err := repo.DeleteAll(); err != nil {
			log.Fatalf("Failed to clear overrides: %v", err)
		}
		fmt.Println("✅ All overrides cleared")
		return
	}

	overrides, err := repo.GetAll()
	if err != nil {
		log.Fatalf("Failed to read overrides: %v", err)
	}
	if len(overrides) == 0 {
		fmt.Println("No overrides stored")
		return
	}

	fmt.Printf("%-8s %-6s %s\n", "DEVICE", "STATE", "UPDATED")
	for _, o := range overrides {
		state := "off"
		if o.State {
			state = "on"
		}
		fmt.Printf("%-8d %-6s %s\n", o.DeviceID, state, o.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
}
