package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fire-framework/firecfg/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing an archive.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: stores.MemoryPath,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Archive initialized successfully")
	// Output: Archive initialized successfully
}

// ExampleSQLiteStore_LatestByPass archives two evaluations and fetches the
// newest one.
func ExampleSQLiteStore_LatestByPass() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, run := range []int{100, 101} {
		record := &stores.Record{
			PassName:     "reco",
			Run:          run,
			ScriptPath:   "reco.star",
			ScriptSHA256: "0f3a",
			Dump:         fmt.Sprintf(`{"pass_name":"reco","run":%d}`, run),
			Allowed:      true,
			CreatedAt:    base.Add(time.Duration(i) * time.Hour),
		}
		if err := store.SaveRecord(ctx, record); err != nil {
			log.Fatal(err)
		}
	}

	latest, err := store.LatestByPass(ctx, "reco")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(latest.Run)
	// Output: 101
}
