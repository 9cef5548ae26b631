package runner

import "time"

type DelayRange struct {
	MinMS int `json:"min_ms"`
	MaxMS int `json:"max_ms"`
}

type Config struct {
	// LocationID is the source's identifier for the geographic search
	// scope. Defaults to Malmö.
	LocationID string `json:"location_id"`
	BaseURL    string `json:"base_url"`
	DataDir    string `json:"data_dir"`

	// AreaMin/AreaMax bound the living-area domain in m², half-open.
	AreaMin int `json:"area_min"`
	AreaMax int `json:"area_max"`

	Cap                 int        `json:"cap"`
	PageSize            int        `json:"page_size"`
	BatchSize           int        `json:"batch_size"`
	MinRangeGranularity int        `json:"min_range_granularity"`
	RequestDelayRange   DelayRange `json:"request_delay_range"`
	MaxRetries          int        `json:"max_retries"`
	Resume              bool       `json:"resume"`
	Workers             int        `json:"workers"`
}

func (c Config) withDefaults() Config {
	if c.LocationID == "" {
		c.LocationID = "17989"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.AreaMax == 0 {
		c.AreaMax = 500
	}
	if c.Cap == 0 {
		c.Cap = 2500
	}
	if c.PageSize == 0 {
		c.PageSize = 50
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.MinRangeGranularity == 0 {
		c.MinRangeGranularity = 5
	}
	if c.RequestDelayRange.MinMS == 0 {
		c.RequestDelayRange.MinMS = 5000
	}
	if c.RequestDelayRange.MaxMS < c.RequestDelayRange.MinMS {
		c.RequestDelayRange.MaxMS = c.RequestDelayRange.MinMS * 2
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.Workers == 0 {
		c.Workers = 2
	}
	return c
}

func (c Config) minDelay() time.Duration {
	return time.Duration(c.RequestDelayRange.MinMS) * time.Millisecond
}

func (c Config) maxDelay() time.Duration {
	return time.Duration(c.RequestDelayRange.MaxMS) * time.Millisecond
}
