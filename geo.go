package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const ipLookupURL = "http://ip-api.com/json?lang=zh-CN"

// normalizeProvince strips trailing administrative suffixes so that
// "北京市" and "北京" compare equal. Idempotent: an already-normalized
// name passes through unchanged.
func normalizeProvince(s string) string {
	for strings.HasSuffix(s, "省") || strings.HasSuffix(s, "市") {
		s = strings.TrimSuffix(s, "省")
		s = strings.TrimSuffix(s, "市")
	}
	return s
}

// fetchIPProvince asks the IP geolocation service for the region the
// current public IP maps to, normalized for comparison.
func fetchIPProvince(client *http.Client, lookupURL string) (string, error) {
	resp, err := client.Get(lookupURL)
	if err != nil {
		return "", fmt.Errorf("ip lookup request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ip lookup body: %w", err)
	}

	region := gjson.GetBytes(body, "regionName")
	if !region.Exists() || region.String() == "" {
		return "", fmt.Errorf("ip lookup: no regionName in %q: %w", body, ErrBadPayload)
	}
	return normalizeProvince(region.String()), nil
}

type provinceReply struct {
	province string
	err      error
}

// fetchIPProvinceAsync kicks the lookup off in the background; the result
// is consumed only when the geolocation race needs it.
func fetchIPProvinceAsync(timeout time.Duration) <-chan provinceReply {
	ch := make(chan provinceReply, 1)
	go func() {
		client := &http.Client{Timeout: timeout}
		p, err := fetchIPProvince(client, ipLookupURL)
		ch <- provinceReply{province: p, err: err}
	}()
	return ch
}

// stripJSONP extracts the JSON payload from a jsonp-wrapped body.
func stripJSONP(s string) (string, error) {
	p := strings.Index(s, "(")
	q := strings.LastIndex(s, ")")
	if p < 0 || q <= p {
		return "", fmt.Errorf("no jsonp wrapper in %q: %w", truncateForLog(s), ErrBadPayload)
	}
	inner := s[p+1 : q]
	if !gjson.Valid(inner) {
		return "", fmt.Errorf("invalid json inside jsonp wrapper %q: %w", truncateForLog(s), ErrBadPayload)
	}
	return inner, nil
}

// addressResolution is the decoded outcome of the page's own
// reverse-geocoding call.
type addressResolution struct {
	Province string
	Address  string
}

// decodeRegeo decodes a reverse-geocoding response body. The province
// field arrives as either a plain string or a singleton array depending on
// the upstream; both shapes are accepted as documented variants.
func decodeRegeo(body string) (addressResolution, error) {
	inner, err := stripJSONP(body)
	if err != nil {
		return addressResolution{}, err
	}

	province := gjson.Get(inner, "regeocode.addressComponent.province")
	name := province.String()
	if province.IsArray() {
		name = ""
		if arr := province.Array(); len(arr) > 0 {
			name = arr[0].String()
		}
	}

	addr := gjson.Get(inner, "regeocode.formatted_address").String()
	if addr == "" {
		return addressResolution{}, fmt.Errorf("bad regeo %q: %w", truncateForLog(body), ErrBadPayload)
	}

	return addressResolution{Province: name, Address: addr}, nil
}

type networkReply struct {
	url  string
	body string
}

// watchResponse arms a one-shot listener for the first network response
// whose URL contains substr. The listener deregisters itself after the
// first readable match, so later matching responses are ignored for the
// rest of the run. Responses without a readable body (CORS preflights)
// keep the listener armed. A watcher that never matches stays subscribed
// until the page closes; one watcher per response kind per run.
func watchResponse(page *rod.Page, substr string) <-chan networkReply {
	ch := make(chan networkReply, 1)
	go page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if !strings.Contains(e.Response.URL, substr) {
			return false
		}
		res, err := proto.NetworkGetResponseBody{RequestID: e.RequestID}.Call(page)
		if err != nil {
			return false
		}
		ch <- networkReply{url: e.Response.URL, body: res.Body}
		return true
	})()
	return ch
}

// logDayInfo echoes a previously filed check-in record. The upstream is
// loose about the record shape, so anything that does not decode is
// silently skipped.
func logDayInfo(log zerolog.Logger, rec gjson.Result) {
	date := rec.Get("date").String()
	geo := gjson.Parse(rec.Get("geo_api_info").String())
	addr := geo.Get("formattedAddress").String()
	if date == "" || addr == "" {
		return
	}
	log.Info().
		Str("date", date).
		Str("address", addr).
		Str("lng", geo.Get("position.lng").String()).
		Str("lat", geo.Get("position.lat").String()).
		Msg("previous check-in")
}

func truncateForLog(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
