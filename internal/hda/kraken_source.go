package hda

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// krakenOHLCResponse mirrors Kraken's public /0/public/OHLC envelope:
// {"error": [...], "result": {"<pair>": [[time, open, high, low, close,
// vwap, volume, count], ...], "last": ...}}.
type krakenOHLCResponse struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// KrakenSource is a concrete hda.Source fetching OHLC bars from Kraken's
// public REST API, grounded on the teacher's internal/provider
// KrakenProvider.fetchKlines request/parse shape.
type KrakenSource struct {
	baseURL string
	client  *http.Client
}

// NewKrakenSource builds a KrakenSource. An empty baseURL defaults to
// Kraken's public API root.
func NewKrakenSource(baseURL string, client *http.Client) *KrakenSource {
	if baseURL == "" {
		baseURL = "https://api.kraken.com/0/public"
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &KrakenSource{baseURL: baseURL, client: client}
}

func (k *KrakenSource) Name() string { return "kraken" }

// Fetch retrieves 1-minute OHLC bars for symbol covering [from, to].
// Kraken's OHLC endpoint ignores an explicit "to" and returns whatever it
// has since "since"; bars outside the window are trimmed here.
func (k *KrakenSource) Fetch(symbol string, from, to time.Time) ([]RawBar, error) {
	url := fmt.Sprintf("%s/OHLC?pair=%s&since=%d", k.baseURL, symbol, from.Unix())

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("hda: kraken request: %w", err)
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hda: kraken fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hda: kraken returned status %d for %s", resp.StatusCode, symbol)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("hda: kraken read body: %w", err)
	}

	var parsed krakenOHLCResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("hda: kraken decode: %w", err)
	}
	if len(parsed.Error) > 0 {
		return nil, fmt.Errorf("hda: kraken api error: %v", parsed.Error)
	}

	var raw json.RawMessage
	for name, v := range parsed.Result {
		if name == "last" {
			continue
		}
		raw = v
		break
	}
	if raw == nil {
		return nil, fmt.Errorf("hda: kraken returned no series for %s", symbol)
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("hda: kraken decode rows: %w", err)
	}

	bars := make([]RawBar, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		bar, err := parseKrakenRow(row, symbol, to)
		if err != nil {
			continue
		}
		if bar.TS.Before(from) || bar.TS.After(to) {
			continue
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseKrakenRow(row []json.RawMessage, symbol string, to time.Time) (RawBar, error) {
	var tsRaw int64
	if err := json.Unmarshal(row[0], &tsRaw); err != nil {
		return RawBar{}, err
	}

	open, err := parseKrakenFloat(row[1])
	if err != nil {
		return RawBar{}, err
	}
	high, err := parseKrakenFloat(row[2])
	if err != nil {
		return RawBar{}, err
	}
	low, err := parseKrakenFloat(row[3])
	if err != nil {
		return RawBar{}, err
	}
	closePx, err := parseKrakenFloat(row[4])
	if err != nil {
		return RawBar{}, err
	}
	volume, err := parseKrakenFloat(row[6])
	if err != nil {
		return RawBar{}, err
	}

	return RawBar{
		TS:        time.Unix(tsRaw, 0).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    volume,
		VolumeUSD: volume * closePx,
		Source:    "kraken",
	}, nil
}

// parseKrakenFloat handles Kraken's habit of quoting numeric OHLC fields
// as JSON strings.
func parseKrakenFloat(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}
