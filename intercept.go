package main

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"
)

const amapHost = "webapi.amap.com"

// interceptor holds the fixed per-run ruleset applied to every outgoing
// request for the lifetime of the page. Evaluation is first match wins.
type interceptor struct {
	override bool
	shifted  bool
	lng      string
	lat      string
	log      zerolog.Logger
}

func newInterceptor(cfg *Config, log zerolog.Logger) *interceptor {
	return &interceptor{
		override: cfg.HasOverride(),
		shifted:  cfg.Shifted,
		lng:      formatCoord(cfg.Longitude),
		lat:      formatCoord(cfg.Latitude),
		log:      log.With().Str("component", "intercept").Logger(),
	}
}

type hijackAction int

const (
	actPass hijackAction = iota
	actRewrite
	actRespond
	actAbort
)

func (a hijackAction) String() string {
	switch a {
	case actRewrite:
		return "rewrite"
	case actRespond:
		return "respond"
	case actAbort:
		return "abort"
	default:
		return "pass"
	}
}

// hijackDecision is the single action applied to one request.
type hijackDecision struct {
	action hijackAction
	url    string // rewritten URL for actRewrite
	body   string // synthesized body for actRespond
}

var locationParamRe = regexp.MustCompile(`location=([0-9.]+,[0-9.]+)`)

// decide classifies a request URL against the ruleset. Pure so the rule
// table is testable without a browser.
func (ic *interceptor) decide(u string) hijackDecision {
	// Client-side IP geolocation lookup: answer it ourselves when a
	// coordinate override is configured.
	if strings.Contains(u, "ipLocation") {
		if !ic.override {
			return hijackDecision{action: actPass}
		}
		callback, ok := jsonpCallback(u)
		if !ok {
			ic.log.Warn().Str("url", u).Msg("ipLocation request without jsonp callback")
			return hijackDecision{action: actPass}
		}
		return hijackDecision{action: actRespond, body: locateSuccessBody(callback, ic.lng, ic.lat)}
	}

	// Reverse geocoding: move the coordinates to the configured override
	// unless shifted mode asks for the original position.
	if strings.Contains(u, "regeo") {
		if ic.shifted || !ic.override {
			if m := locationParamRe.FindStringSubmatch(u); m != nil {
				ic.log.Info().Str("position", m[1]).Msg("original position")
			}
			return hijackDecision{action: actPass}
		}
		rewritten := locationParamRe.ReplaceAllString(u, "location="+ic.lng+","+ic.lat)
		return hijackDecision{action: actRewrite, url: rewritten}
	}

	// The geo error beacon would flag the spoofed location as anomalous.
	if strings.Contains(u, "save-geo-error") {
		return hijackDecision{action: actAbort}
	}

	// Map API host: only module and map asset loading may pass.
	if strings.Contains(u, amapHost) {
		if strings.Contains(u, "/modules?") || strings.Contains(u, "/maps?") {
			return hijackDecision{action: actPass}
		}
		return hijackDecision{action: actAbort}
	}

	return hijackDecision{action: actPass}
}

// install hooks the ruleset into the page's network stack. Each paused
// request is resolved exactly once: continued, fulfilled, or failed.
func (ic *interceptor) install(page *rod.Page) (*rod.HijackRouter, error) {
	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		u := h.Request.URL().String()
		d := ic.decide(u)
		ic.log.Debug().Str("action", d.action.String()).Str("url", u).Msg("request")

		switch d.action {
		case actAbort:
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		case actRespond:
			h.Response.Payload().ResponseCode = http.StatusOK
			h.Response.SetHeader("Access-Control-Allow-Origin", "*")
			h.Response.SetBody(d.body)
		case actRewrite:
			h.ContinueRequest(&proto.FetchContinueRequest{URL: d.url})
		default:
			h.ContinueRequest(&proto.FetchContinueRequest{})
		}
	})
	if err != nil {
		return nil, err
	}
	go router.Run()
	return router, nil
}

// jsonpCallback extracts the jsonp callback token from a request URL. The
// token runs from "jsonp_" to the next query separator.
func jsonpCallback(u string) (string, bool) {
	p := strings.Index(u, "jsonp_")
	if p < 0 {
		return "", false
	}
	rest := u[p:]
	if q := strings.IndexByte(rest, '&'); q >= 0 {
		rest = rest[:q]
	}
	return rest, true
}

// locateSuccessBody wraps a literal LOCATE_SUCCESS payload in the caller's
// own jsonp callback.
func locateSuccessBody(callback, lng, lat string) string {
	payload := `{"info":"LOCATE_SUCCESS","status":1}`
	payload, _ = sjson.Set(payload, "lng", lng)
	payload, _ = sjson.Set(payload, "lat", lat)
	return callback + "(" + payload + ");"
}
