// Package hemnet is the source boundary: a typed client over the capped
// sold-listings search endpoint and the per-listing detail pages.
package hemnet

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"hemnet-harvester/internal/harvest"
	"hemnet-harvester/internal/harvest/faults"
	"hemnet-harvester/internal/harvest/ratelimit"
	"hemnet-harvester/internal/harvest/session"
	"hemnet-harvester/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("harvest/hemnet")

const (
	DefaultBaseURL  = "https://www.hemnet.se"
	soldListingPath = "/salda/bostader"
)

type Client struct {
	http     *resty.Client
	session  *session.Store
	limiter  *ratelimit.Limiter
	base     *url.URL
	location string
	pageSize int
}

type ClientOptions struct {
	BaseURL string
	// LocationID is the source's identifier for the geographic search scope.
	LocationID string
	PageSize   int
	Session    *session.Store
	Limiter    *ratelimit.Limiter
}

func NewClient(opts ClientOptions) (*Client, error) {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if opts.Limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	client := resty.New()
	client.SetBaseURL(baseURL)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(base.Hostname()))
	client.SetTimeout(time.Second * 30)
	telemetry.InstrumentResty(client, "harvest/hemnet/http")

	return &Client{
		http:     client,
		session:  opts.Session,
		limiter:  opts.Limiter,
		base:     base,
		location: opts.LocationID,
		pageSize: pageSize,
	}, nil
}

func (c *Client) PageSize() int {
	return c.pageSize
}

// RefreshSession forces a session refresh. Callers detecting a challenge
// mid-collection use this before retrying the failed unit.
func (c *Client) RefreshSession(ctx context.Context) error {
	_, err := c.session.Refresh(ctx)
	return err
}

// get issues one rate-limited GET under the current session token. A
// challenge response invalidates the token and retries once with a fresh
// one; a second challenge is surfaced as faults.ErrChallenge.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	for attempt := 0; attempt < 2; attempt++ {
		tok, err := c.session.Get(ctx)
		if err != nil {
			return nil, err
		}

		err = c.limiter.Wait(ctx)
		if err != nil {
			return nil, err
		}

		res, err := c.http.R().
			SetContext(ctx).
			SetHeader("user-agent", tok.UserAgent).
			SetCookies(tok.HTTPCookies()).
			SetQueryParamsFromValues(query).
			Get(path)
		if err != nil {
			return nil, faults.Transient(err)
		}

		if session.IsChallengeResponse(res.StatusCode(), res.Body()) {
			c.session.Invalidate(tok)
			continue
		}
		if res.StatusCode() == 429 || res.StatusCode() >= 500 {
			return nil, faults.Transient(fmt.Errorf("status %d from %s", res.StatusCode(), path))
		}
		if res.StatusCode() != 200 {
			return nil, fmt.Errorf("status %d from %s", res.StatusCode(), path)
		}
		return res.Body(), nil
	}
	return nil, faults.ErrChallenge
}

func (c *Client) searchQuery(lo, hi int) url.Values {
	query := url.Values{}
	query.Set("item_types[]", "bostadsratt")
	query.Set("location_ids[]", c.location)
	query.Set("living_area_min", strconv.Itoa(lo))
	// the source's area filter is inclusive on both ends, ranges here are
	// half-open [lo, hi)
	query.Set("living_area_max", strconv.Itoa(hi-1))
	return query
}

// ProbeCount returns the total result count for [lo, hi) without paging.
func (c *Client) ProbeCount(ctx context.Context, lo, hi int) (int, error) {
	ctx, span := tracer.Start(ctx, "client:ProbeCount")
	defer span.End()

	body, err := c.get(ctx, soldListingPath, c.searchQuery(lo, hi))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "probe request failed")
		return 0, err
	}

	count, err := parseTotalCount(body)
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse result count")
		return 0, err
	}
	return count, nil
}

// FetchPage fetches one page of listing results for [lo, hi). Pages are
// 1-indexed like the source's own pagination.
func (c *Client) FetchPage(ctx context.Context, lo, hi, page int) (PageResult, error) {
	ctx, span := tracer.Start(ctx, "client:FetchPage")
	defer span.End()

	query := c.searchQuery(lo, hi)
	if page > 1 {
		query.Set("page", strconv.Itoa(page))
	}

	body, err := c.get(ctx, soldListingPath, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "page request failed")
		return PageResult{}, err
	}

	rangeKey := harvest.PartitionRange{Min: lo, Max: hi}.Key()
	result, err := parseListingPage(body, c.base, rangeKey)
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse listing page")
		return PageResult{}, err
	}
	return result, nil
}

// FetchDetail fetches and parses the full record for one listing.
func (c *Client) FetchDetail(ctx context.Context, link harvest.ItemLink) (PropertyRecord, error) {
	ctx, span := tracer.Start(ctx, "client:FetchDetail")
	defer span.End()

	u, err := url.Parse(link.URL)
	if err != nil {
		return PropertyRecord{}, err
	}

	body, err := c.get(ctx, u.Path, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "detail request failed")
		return PropertyRecord{}, err
	}

	record, err := parseDetail(body)
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse detail page")
		return PropertyRecord{}, err
	}
	record.ItemID = link.ItemID
	record.URL = link.URL
	record.ScrapedAt = time.Now()
	return record, nil
}
