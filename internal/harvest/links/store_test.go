package links

import (
	"context"
	"testing"
	"time"

	"hemnet-harvester/internal/harvest"
	"hemnet-harvester/internal/harvest/links/db"
	"hemnet-harvester/lib/testutil"

	"github.com/stretchr/testify/require"
)

func link(id, sourceRange string) harvest.ItemLink {
	return harvest.ItemLink{
		ItemID:       id,
		URL:          "https://www.hemnet.se/salda/lagenhet-" + id,
		SourceRange:  sourceRange,
		DiscoveredAt: time.Now(),
	}
}

func TestStoreDeduplicatesAcrossRanges(t *testing.T) {
	setup, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "harvest/links",
		DbSchema: db.Schema,
	})
	defer cleanup()
	store := NewStore(setup.DB)
	ctx := context.Background()

	inserted, err := store.Insert(ctx, []harvest.ItemLink{
		link("100", "0-31"),
		link("101", "0-31"),
		link("102", "0-31"),
	})
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 3, inserted)

	// range boundaries overlap in practice, an item seen by two ranges must
	// land in the set exactly once
	inserted, err = store.Insert(ctx, []harvest.ItemLink{
		link("102", "31-500"),
		link("103", "31-500"),
	})
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 1, inserted)

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 4, count)

	all, err := store.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ids := []string{}
	for _, l := range all {
		ids = append(ids, l.ItemID)
	}
	require.Equal(t, []string{"100", "101", "102", "103"}, ids)

	// the first discovery wins
	require.Equal(t, "0-31", all[2].SourceRange)
}

func TestStoreInsertAllDuplicatesReturnsZero(t *testing.T) {
	setup, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "harvest/links",
		DbSchema: db.Schema,
	})
	defer cleanup()
	store := NewStore(setup.DB)
	ctx := context.Background()

	page := []harvest.ItemLink{link("200", "0-31"), link("201", "0-31")}
	_, err := store.Insert(ctx, page)
	if err != nil {
		t.Fatal(err)
	}

	inserted, err := store.Insert(ctx, page)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 0, inserted)
}

func TestStoreFetchedSet(t *testing.T) {
	setup, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "harvest/links",
		DbSchema: db.Schema,
	})
	defer cleanup()
	store := NewStore(setup.DB)
	ctx := context.Background()

	_, err := store.Insert(ctx, []harvest.ItemLink{
		link("300", "0-31"),
		link("301", "0-31"),
		link("302", "0-31"),
	})
	if err != nil {
		t.Fatal(err)
	}

	err = store.MarkFetched(ctx, []string{"300", "301"}, 0)
	if err != nil {
		t.Fatal(err)
	}

	fetched, err := store.FetchedSet(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, map[string]bool{"300": true, "301": true}, fetched)

	// marking again is a no-op, not an error
	err = store.MarkFetched(ctx, []string{"301", "302"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	fetched, err = store.FetchedSet(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, fetched, 3)
}
