package hemnet

import (
	"time"

	"hemnet-harvester/internal/harvest"
)

// PageResult is one page of listing search results.
type PageResult struct {
	Links      []harvest.ItemLink
	TotalCount int
}

// FullPage reports whether the page held as many links as the source puts on
// a full page, i.e. whether more pages may follow.
func (p PageResult) FullPage(pageSize int) bool {
	return len(p.Links) >= pageSize
}

// PropertyRecord is the normalized detail record for one sold listing,
// assembled from the page's embedded next-data payload.
type PropertyRecord struct {
	ItemID           string    `json:"item_id" parquet:"item_id"`
	URL              string    `json:"url" parquet:"url"`
	Address          string    `json:"address" parquet:"address"`
	District         string    `json:"district" parquet:"district,optional"`
	City             string    `json:"city" parquet:"city,optional"`
	AskingPrice      int64     `json:"asking_price" parquet:"asking_price,optional"`
	FinalPrice       int64     `json:"final_price" parquet:"final_price,optional"`
	LivingArea       float64   `json:"living_area" parquet:"living_area,optional"`
	Rooms            float64   `json:"rooms" parquet:"rooms,optional"`
	AssociationFee   int64     `json:"association_fee" parquet:"association_fee,optional"`
	ConstructionYear int64     `json:"construction_year" parquet:"construction_year,optional"`
	SoldAt           string    `json:"sold_at" parquet:"sold_at,optional"`
	ScrapedAt        time.Time `json:"scraped_at" parquet:"scraped_at,timestamp"`
}
