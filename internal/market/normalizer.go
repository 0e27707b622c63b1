package market

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RawRecord is a source-tagged raw payload handed to the normalizer.
// ProviderRecordID must be stable across re-fetches of the same record
// so ingest stays idempotent.
type RawRecord struct {
	ProviderRecordID string          `json:"provider_record_id"`
	ObservedAt       time.Time       `json:"observed_at"`
	Payload          json.RawMessage `json:"payload"`
}

// Normalizer converts provider-specific payloads into canonical
// FlightObservations. It is a pure function of its inputs: no I/O, no
// clock reads; the caller persists results.
type Normalizer struct {
	baseCurrency string
	fxRates      map[string]decimal.Decimal
}

// NewNormalizer creates a normalizer converting all prices into
// baseCurrency using the given rates (base units per one foreign unit).
func NewNormalizer(baseCurrency string, fxRates map[string]float64) *Normalizer {
	rates := make(map[string]decimal.Decimal, len(fxRates))
	for cur, rate := range fxRates {
		rates[strings.ToUpper(cur)] = decimal.NewFromFloat(rate)
	}
	base := strings.ToUpper(baseCurrency)
	if _, ok := rates[base]; !ok {
		rates[base] = decimal.NewFromInt(1)
	}
	return &Normalizer{baseCurrency: base, fxRates: rates}
}

// Normalize maps a raw record to a canonical observation. All returned
// errors are *NormalizationError values; the caller skips the record
// and continues the batch.
func (n *Normalizer) Normalize(raw RawRecord, source Source) (*FlightObservation, error) {
	// Dedup keys on (source, provider_record_id); an empty ID would fold
	// distinct records into one stored row.
	if strings.TrimSpace(raw.ProviderRecordID) == "" {
		return nil, NewMissingFieldError(source, raw.ProviderRecordID, "provider_record_id")
	}

	var (
		mapped *mappedRecord
		err    error
	)

	switch source {
	case SourceSample:
		mapped, err = mapSamplePayload(raw)
	case SourceAviationStack:
		mapped, err = mapAviationStackPayload(raw)
	case SourceAmadeus:
		mapped, err = mapAmadeusPayload(raw)
	case SourceOpenSky:
		mapped, err = mapOpenSkyPayload(raw)
	default:
		return nil, NewUnknownSourceError(string(source))
	}
	if err != nil {
		return nil, err
	}

	if mapped.origin == "" {
		return nil, NewMissingFieldError(source, raw.ProviderRecordID, "origin")
	}
	if mapped.destination == "" {
		return nil, NewMissingFieldError(source, raw.ProviderRecordID, "destination")
	}
	if len(mapped.price) == 0 {
		return nil, NewMissingFieldError(source, raw.ProviderRecordID, "price")
	}
	if mapped.flightDate == "" {
		return nil, NewMissingFieldError(source, raw.ProviderRecordID, "flight_date")
	}
	if raw.ObservedAt.IsZero() {
		return nil, NewMissingFieldError(source, raw.ProviderRecordID, "observed_at")
	}

	price, err := parsePrice(mapped.price, source, raw.ProviderRecordID)
	if err != nil {
		return nil, err
	}

	converted, err := n.toBaseCurrency(price, mapped.currency, source, raw.ProviderRecordID)
	if err != nil {
		return nil, err
	}

	flightDate, err := parseFlightDate(mapped.flightDate)
	if err != nil {
		return nil, NewMalformedPayloadError(source, raw.ProviderRecordID,
			fmt.Sprintf("unparseable flight_date %q", mapped.flightDate))
	}

	return &FlightObservation{
		Source:           source,
		ProviderRecordID: raw.ProviderRecordID,
		Airline:          strings.ToUpper(strings.TrimSpace(mapped.airline)),
		FlightNumber:     strings.ToUpper(strings.TrimSpace(mapped.flightNumber)),
		Origin:           strings.ToUpper(strings.TrimSpace(mapped.origin)),
		Destination:      strings.ToUpper(strings.TrimSpace(mapped.destination)),
		Price:            converted,
		Currency:         n.baseCurrency,
		FlightDate:       flightDate.UTC(),
		ObservedAt:       raw.ObservedAt.UTC(),
	}, nil
}

// mappedRecord is the intermediate form all provider schemas map into
// before shared validation. Price stays raw until validated.
type mappedRecord struct {
	airline      string
	flightNumber string
	origin       string
	destination  string
	price        json.RawMessage
	currency     string
	flightDate   string
}

// rawPrice holds a price that may arrive as a JSON number or a quoted
// decimal string, plus its currency tag.
type rawPrice struct {
	Amount   json.RawMessage `json:"amount"`
	Currency string          `json:"currency"`
}

// samplePayload is the schema emitted by the sample-data generator.
type samplePayload struct {
	Airline      string          `json:"airline"`
	FlightNumber string          `json:"flight_number"`
	Origin       string          `json:"origin"`
	Destination  string          `json:"destination"`
	Price        json.RawMessage `json:"price"`
	Currency     string          `json:"currency"`
	FlightDate   string          `json:"flight_date"`
}

func mapSamplePayload(raw RawRecord) (*mappedRecord, error) {
	var p samplePayload
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return nil, NewMalformedPayloadError(SourceSample, raw.ProviderRecordID, err.Error())
	}
	return &mappedRecord{
		airline:      p.Airline,
		flightNumber: p.FlightNumber,
		origin:       p.Origin,
		destination:  p.Destination,
		price:        p.Price,
		currency:     p.Currency,
		flightDate:   p.FlightDate,
	}, nil
}

// aviationStackPayload mirrors the AviationStack /flights record shape.
// The price block is attached by the fetch pipeline since the flights
// endpoint itself carries no fares.
type aviationStackPayload struct {
	Flight struct {
		IATA   string `json:"iata"`
		Number string `json:"number"`
	} `json:"flight"`
	Airline struct {
		Name string `json:"name"`
		IATA string `json:"iata"`
	} `json:"airline"`
	Departure struct {
		IATA      string `json:"iata"`
		Scheduled string `json:"scheduled"`
	} `json:"departure"`
	Arrival struct {
		IATA string `json:"iata"`
	} `json:"arrival"`
	Price rawPrice `json:"price"`
}

func mapAviationStackPayload(raw RawRecord) (*mappedRecord, error) {
	var p aviationStackPayload
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return nil, NewMalformedPayloadError(SourceAviationStack, raw.ProviderRecordID, err.Error())
	}
	airline := p.Airline.Name
	if airline == "" {
		airline = p.Airline.IATA
	}
	flightNumber := p.Flight.IATA
	if flightNumber == "" {
		flightNumber = p.Flight.Number
	}
	return &mappedRecord{
		airline:      airline,
		flightNumber: flightNumber,
		origin:       p.Departure.IATA,
		destination:  p.Arrival.IATA,
		price:        p.Price.Amount,
		currency:     p.Price.Currency,
		flightDate:   p.Departure.Scheduled,
	}, nil
}

// amadeusPayload mirrors the Amadeus flight-offer record shape.
type amadeusPayload struct {
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	CarrierCode   string `json:"carrierCode"`
	Number        string `json:"number"`
	DepartureDate string `json:"departureDate"`
	Price         struct {
		Total    json.RawMessage `json:"total"`
		Currency string          `json:"currency"`
	} `json:"price"`
}

func mapAmadeusPayload(raw RawRecord) (*mappedRecord, error) {
	var p amadeusPayload
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return nil, NewMalformedPayloadError(SourceAmadeus, raw.ProviderRecordID, err.Error())
	}
	flightNumber := ""
	if p.CarrierCode != "" && p.Number != "" {
		flightNumber = p.CarrierCode + p.Number
	}
	return &mappedRecord{
		airline:      p.CarrierCode,
		flightNumber: flightNumber,
		origin:       p.Origin,
		destination:  p.Destination,
		price:        p.Price.Total,
		currency:     p.Price.Currency,
		flightDate:   p.DepartureDate,
	}, nil
}

// openSkyPayload mirrors the OpenSky flights-by-aircraft record shape.
// OpenSky carries no fares either; the price block comes from the
// enrichment step.
type openSkyPayload struct {
	Callsign            string   `json:"callsign"`
	EstDepartureAirport string   `json:"estDepartureAirport"`
	EstArrivalAirport   string   `json:"estArrivalAirport"`
	FirstSeen           int64    `json:"firstSeen"`
	Price               rawPrice `json:"price"`
}

func mapOpenSkyPayload(raw RawRecord) (*mappedRecord, error) {
	var p openSkyPayload
	if err := json.Unmarshal(raw.Payload, &p); err != nil {
		return nil, NewMalformedPayloadError(SourceOpenSky, raw.ProviderRecordID, err.Error())
	}
	callsign := strings.TrimSpace(p.Callsign)
	airline := ""
	if len(callsign) >= 3 {
		airline = callsign[:3]
	}
	flightDate := ""
	if p.FirstSeen > 0 {
		flightDate = time.Unix(p.FirstSeen, 0).UTC().Format(time.RFC3339)
	}
	return &mappedRecord{
		airline:      airline,
		flightNumber: callsign,
		origin:       p.EstDepartureAirport,
		destination:  p.EstArrivalAirport,
		price:        p.Price.Amount,
		currency:     p.Price.Currency,
		flightDate:   flightDate,
	}, nil
}

// parsePrice accepts a JSON number or quoted decimal string and rejects
// anything non-numeric or negative.
func parsePrice(raw json.RawMessage, source Source, recordID string) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	s = strings.Trim(s, `"`)
	if s == "" || s == "null" {
		return decimal.Zero, NewMissingFieldError(source, recordID, "price")
	}
	price, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, NewInvalidPriceError(source, recordID, fmt.Sprintf("non-numeric value %q", s))
	}
	if price.IsNegative() {
		return decimal.Zero, NewInvalidPriceError(source, recordID, fmt.Sprintf("negative value %s", price))
	}
	return price, nil
}

// toBaseCurrency converts a price into the base currency at the
// configured rate, rounded to two decimal places.
func (n *Normalizer) toBaseCurrency(price decimal.Decimal, currency string, source Source, recordID string) (decimal.Decimal, error) {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if cur == "" {
		cur = n.baseCurrency
	}
	rate, ok := n.fxRates[cur]
	if !ok {
		return decimal.Zero, NewInvalidPriceError(source, recordID, fmt.Sprintf("no fx rate for currency %s", cur))
	}
	return price.Mul(rate).Round(2), nil
}

// flightDateFormats are the timestamp shapes providers use for flight
// dates, tried in order.
var flightDateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseFlightDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, format := range flightDateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized flight date format: %q", s)
}
