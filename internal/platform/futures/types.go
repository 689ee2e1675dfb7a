package futures

// openInterestResponse is the wire shape of the aggregator's per-exchange
// open-interest stats endpoint.
type openInterestResponse struct {
	Exchange          string  `json:"exchange"`
	Symbol            string  `json:"symbol"`
	LongOpenInterest  float64 `json:"long_open_interest"`
	ShortOpenInterest float64 `json:"short_open_interest"`
	LongLiqPrice      float64 `json:"long_liq_price"`
	ShortLiqPrice     float64 `json:"short_liq_price"`
	FundingRate       float64 `json:"funding_rate"`
	Timestamp         int64   `json:"timestamp"` // unix milliseconds
}

// errorResponse is the aggregator's error envelope.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
