package main

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	"go-relayer/internal/config"
	"go-relayer/internal/db"
	"go-relayer/internal/models"
)

func main() {
	fmt.Println("🔍 Verifying database connection and submission journal...")
	fmt.Println(strings.Repeat("=", 60))

	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.DSN == "" {
		fmt.Println("📋 database.dsn is empty: the relayer keeps its journal in memory, nothing to verify")
		return
	}

	gdb, err := db.InitDB(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = db.Close(gdb) }()

	sqlDB, err := gdb.DB()
	if err != nil {
		log.Fatalf("Failed to get database connection: %v", err)
	}

	var dbName string
	if err := sqlDB.QueryRow("SELECT current_database()").Scan(&dbName); err != nil {
		log.Fatalf("Failed to get database name: %v", err)
	}
	fmt.Printf("📋 Connected to database: %s\n", dbName)

	// InitDB already ran AutoMigrate
	table := models.PendingTransaction{}.TableName()

	// tx_hash must hold a 0x-prefixed 32-byte hash
	var size sql.NullInt64
	err = sqlDB.QueryRow(`
		SELECT character_maximum_length
		FROM information_schema.columns
		WHERE table_schema = 'public'
		AND table_name = $1
		AND column_name = 'tx_hash'
	`, table).Scan(&size)
	if err != nil {
		log.Fatalf("Failed to query column size: %v", err)
	}
	if size.Valid && size.Int64 < 66 {
		fmt.Printf("❌ %s.tx_hash is VARCHAR(%d), need VARCHAR(66)\n", table, size.Int64)
	} else {
		fmt.Printf("✅ %s.tx_hash column size is correct\n", table)
	}

	// per-status counts
	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	if err := gdb.Model(&models.PendingTransaction{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&counts).Error; err != nil {
		log.Fatalf("Failed to count journal records: %v", err)
	}
	fmt.Println("\n📊 Journal records by status:")
	if len(counts) == 0 {
		fmt.Println("   (empty)")
	}
	for _, c := range counts {
		marker := "  "
		if !models.PendingTransactionStatus(c.Status).IsTerminal() {
			marker = "⏳"
		}
		fmt.Printf("   %s %-10s %d\n", marker, c.Status, c.Count)
	}
}
