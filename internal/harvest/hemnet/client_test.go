package hemnet

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"hemnet-harvester/internal/harvest"
	"hemnet-harvester/internal/harvest/faults"
	"hemnet-harvester/internal/harvest/ratelimit"
	"hemnet-harvester/internal/harvest/session"
	"hemnet-harvester/lib/testutil"

	"github.com/stretchr/testify/require"
)

// staticSolver hands out tokens without touching the network.
type staticSolver struct {
	solves int
}

func (s *staticSolver) Solve(ctx context.Context) (session.Token, error) {
	s.solves++
	return session.Token{
		Cookies:    []session.Cookie{{Name: "cf_clearance", Value: fmt.Sprintf("gen-%d", s.solves)}},
		UserAgent:  "test-agent",
		CapturedAt: time.Now(),
	}, nil
}

func newTestClient(t *testing.T, baseURL string) (*Client, *staticSolver) {
	solver := &staticSolver{}
	sessions := session.NewStore(
		filepath.Join(t.TempDir(), "session.json"),
		solver,
		time.Minute*25,
	)
	limiter, err := ratelimit.New(time.Millisecond, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	client, err := NewClient(ClientOptions{
		BaseURL:    baseURL,
		LocationID: "17989",
		PageSize:   50,
		Session:    sessions,
		Limiter:    limiter,
	})
	if err != nil {
		t.Fatal(err)
	}
	return client, solver
}

func TestProbeCountSendsRangeQuery(t *testing.T) {
	_, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name: "harvest/hemnet",
	})
	defer cleanup()

	var query map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = map[string]string{
			"item_types[]":    r.URL.Query().Get("item_types[]"),
			"location_ids[]":  r.URL.Query().Get("location_ids[]"),
			"living_area_min": r.URL.Query().Get("living_area_min"),
			"living_area_max": r.URL.Query().Get("living_area_max"),
			"page":            r.URL.Query().Get("page"),
		}
		fmt.Fprint(w, listingPageHTML)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL)

	count, err := client.ProbeCount(context.Background(), 0, 31)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, 1860, count)

	// half-open [0,31) against the source's inclusive filter
	require.Equal(t, map[string]string{
		"item_types[]":    "bostadsratt",
		"location_ids[]":  "17989",
		"living_area_min": "0",
		"living_area_max": "30",
		"page":            "",
	}, query)
}

func TestFetchPageSendsPageParamPastOne(t *testing.T) {
	pages := []string{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages = append(pages, r.URL.Query().Get("page"))
		fmt.Fprint(w, listingPageHTML)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL)
	ctx := context.Background()

	_, err := client.FetchPage(ctx, 0, 31, 1)
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.FetchPage(ctx, 0, 31, 3)
	if err != nil {
		t.Fatal(err)
	}

	// page 1 is the endpoint's default and is never sent explicitly
	require.Equal(t, []string{"", "3"}, pages)
}

func TestClientRetriesOnceOnChallenge(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, listingPageHTML)
	}))
	defer server.Close()

	client, solver := newTestClient(t, server.URL)

	result, err := client.FetchPage(context.Background(), 0, 31, 1)
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, result.Links, 2)
	require.Equal(t, 2, requests)
	// the challenged token was invalidated and re-solved
	require.Equal(t, 2, solver.solves)
}

func TestClientSurfacesChallengeAfterSecondFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client, solver := newTestClient(t, server.URL)

	_, err := client.FetchPage(context.Background(), 0, 31, 1)
	require.ErrorIs(t, err, faults.ErrChallenge)
	require.Equal(t, 2, solver.solves)
}

func TestClientMarksServerErrorsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL)

	_, err := client.ProbeCount(context.Background(), 0, 31)
	require.Error(t, err)
	require.True(t, faults.IsTransient(err))
}

func TestFetchDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, detailPageHTML)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL)

	link := harvest.ItemLink{
		ItemID: "123456",
		URL:    server.URL + "/salda/lagenhet-3v-malmo-vastra-hamnen-storgatan-1-123456",
	}
	record, err := client.FetchDetail(context.Background(), link)
	if err != nil {
		t.Fatal(err)
	}

	require.Equal(t, "123456", record.ItemID)
	require.Equal(t, link.URL, record.URL)
	require.Equal(t, "Storgatan 1", record.Address)
	require.Equal(t, int64(2750000), record.FinalPrice)
	require.False(t, record.ScrapedAt.IsZero())
}
