package hemnet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"hemnet-harvester/internal/harvest"

	"github.com/PuerkitoBio/goquery"
)

// "Visar 50 av 3 010" with non-breaking-space thousands separators.
var totalCountRegex = regexp.MustCompile(`Visar\s+[\d\s\x{00a0}]+\s+av\s+([\d\s\x{00a0}]+)`)

// sold listing slugs end in the numeric listing id.
var itemIDRegex = regexp.MustCompile(`-(\d+)/?$`)

func parseTotalCount(body []byte) (int, error) {
	groups := totalCountRegex.FindSubmatch(body)
	if len(groups) < 2 {
		// a valid result page with zero hits carries no "Visar X av Y" text
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		if doc.Find(`a[href*="/salda/"]`).Length() == 0 {
			return 0, nil
		}
		return 0, fmt.Errorf("result count indicator not found")
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, string(groups[1]))

	return strconv.Atoi(digits)
}

func parseListingPage(body []byte, base *url.URL, sourceRange string) (PageResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return PageResult{}, err
	}

	total, err := parseTotalCount(body)
	if err != nil {
		total = 0
	}

	seen := map[string]bool{}
	var links []harvest.ItemLink
	doc.Find(`a[href*="/salda/"]`).Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		groups := itemIDRegex.FindStringSubmatch(href)
		if len(groups) < 2 {
			return
		}
		itemID := groups[1]
		if seen[itemID] {
			return
		}
		seen[itemID] = true

		ref, err := url.Parse(href)
		if err != nil {
			return
		}

		links = append(links, harvest.ItemLink{
			ItemID:       itemID,
			URL:          base.ResolveReference(ref).String(),
			SourceRange:  sourceRange,
			DiscoveredAt: time.Now(),
		})
	})

	return PageResult{Links: links, TotalCount: total}, nil
}

var nextDataRegex = regexp.MustCompile(`(?s)<script id="__NEXT_DATA__" type="application/json">(.+?)</script>`)

type nextData struct {
	Props struct {
		PageProps struct {
			ApolloState map[string]json.RawMessage `json:"__APOLLO_STATE__"`
		} `json:"pageProps"`
	} `json:"props"`
}

type moneyValue struct {
	Amount json.Number `json:"amount"`
}

func (m moneyValue) int64() int64 {
	v, err := m.Amount.Int64()
	if err != nil {
		f, ferr := m.Amount.Float64()
		if ferr != nil {
			return 0
		}
		return int64(f)
	}
	return v
}

type soldListingPayload struct {
	StreetAddress       string      `json:"streetAddress"`
	LocationDescription string      `json:"locationDescription"`
	Municipality        string      `json:"municipalityName"`
	AskingPrice         moneyValue  `json:"askingPrice"`
	SellingPrice        moneyValue  `json:"sellingPrice"`
	Fee                 moneyValue  `json:"fee"`
	LivingArea          json.Number `json:"livingArea"`
	NumberOfRooms       json.Number `json:"numberOfRooms"`
	ConstructionYear    json.Number `json:"legacyConstructionYear"`
	SoldAt              string      `json:"formattedSoldAt"`
}

// parseDetail pulls the normalized record out of the page's embedded
// next-data payload. Fields the payload doesn't carry stay zero; the caller
// decides whether a sparse record is useful.
func parseDetail(body []byte) (PropertyRecord, error) {
	groups := nextDataRegex.FindSubmatch(body)
	if len(groups) < 2 {
		return PropertyRecord{}, fmt.Errorf("next-data payload not found")
	}

	var payload nextData
	err := json.Unmarshal(groups[1], &payload)
	if err != nil {
		return PropertyRecord{}, fmt.Errorf("decode next-data: %w", err)
	}

	var listing *soldListingPayload
	for key, raw := range payload.Props.PageProps.ApolloState {
		if !strings.HasPrefix(key, "SoldPropertyListing:") {
			continue
		}
		var decoded soldListingPayload
		err := json.Unmarshal(raw, &decoded)
		if err != nil {
			continue
		}
		listing = &decoded
		break
	}
	if listing == nil {
		return PropertyRecord{}, fmt.Errorf("no sold listing in next-data payload")
	}

	livingArea, _ := listing.LivingArea.Float64()
	rooms, _ := listing.NumberOfRooms.Float64()
	year, _ := listing.ConstructionYear.Int64()

	return PropertyRecord{
		Address:          listing.StreetAddress,
		District:         listing.LocationDescription,
		City:             listing.Municipality,
		AskingPrice:      listing.AskingPrice.int64(),
		FinalPrice:       listing.SellingPrice.int64(),
		AssociationFee:   listing.Fee.int64(),
		LivingArea:       livingArea,
		Rooms:            rooms,
		ConstructionYear: year,
		SoldAt:           listing.SoldAt,
	}, nil
}
