package main

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status   string
		expected statusKind
	}{
		{"今日已提交", statusSubmitted},
		{"已提交", statusSubmitted},
		{"未到填报时间", statusNotDue},
		{"待填报", statusPending},
		{"提交", statusPending},
		{"", statusPending},
	}

	for _, test := range tests {
		result := classifyStatus(test.status)
		if result != test.expected {
			t.Errorf("classifyStatus(%q) = %v, expected %v", test.status, result, test.expected)
		}
	}
}

func TestCheckConfirmTitle(t *testing.T) {
	if err := checkConfirmTitle("每天只能填报一次，确认提交？"); err != nil {
		t.Errorf("expected once-per-day title to pass, got %v", err)
	}

	err := checkConfirmTitle("系统繁忙，请稍后再试")
	if err == nil {
		t.Fatal("expected unexpected-dialog error for a foreign title")
	}
	var dialogErr *UnexpectedDialogError
	if !errors.As(err, &dialogErr) {
		t.Fatalf("error %v is not an UnexpectedDialogError", err)
	}
	if dialogErr.Variant != "confirm" {
		t.Errorf("variant = %q, expected confirm", dialogErr.Variant)
	}
	if dialogErr.Message != "系统繁忙，请稍后再试" {
		t.Errorf("message = %q, dialog title not carried", dialogErr.Message)
	}
}

func TestAwaitAddress(t *testing.T) {
	regeo := func(province, address string) string {
		return `cb({"regeocode":{"addressComponent":{"province":` + province + `},"formatted_address":"` + address + `"}})`
	}

	tests := []struct {
		name        string
		body        string // empty: no reverse-geocoding response arrives
		prov        *provinceReply
		wantAddress string
		wantErr     bool
	}{
		{
			name:        "matching province",
			body:        regeo(`"北京市"`, "北京市海淀区学院路37号"),
			prov:        &provinceReply{province: "北京"},
			wantAddress: "北京市海淀区学院路37号",
		},
		{
			name:        "array province matches",
			body:        regeo(`["北京市"]`, "北京市海淀区学院路37号"),
			prov:        &provinceReply{province: "北京"},
			wantAddress: "北京市海淀区学院路37号",
		},
		{
			name:        "province check disabled",
			body:        regeo(`"上海市"`, "上海市杨浦区某路1号"),
			wantAddress: "上海市杨浦区某路1号",
		},
		{
			name:    "mismatched province",
			body:    regeo(`"上海市"`, "上海市杨浦区某路1号"),
			prov:    &provinceReply{province: "北京"},
			wantErr: true,
		},
		{
			name:    "ip lookup failure",
			body:    regeo(`"北京市"`, "北京市海淀区学院路37号"),
			prov:    &provinceReply{err: errors.New("lookup down")},
			wantErr: true,
		},
		{
			name:    "no reverse-geocoding response",
			wantErr: true,
		},
		{
			name:    "undecodable body",
			body:    "not jsonp",
			prov:    &provinceReply{province: "北京"},
			wantErr: true,
		},
	}

	for _, test := range tests {
		sess := &Session{cfg: DefaultConfig(), log: zerolog.Nop()}
		regeoCh := make(chan networkReply, 1)
		if test.body != "" {
			regeoCh <- networkReply{url: "regeo", body: test.body}
		}
		var provCh chan provinceReply
		if test.prov != nil {
			provCh = make(chan provinceReply, 1)
			provCh <- *test.prov
		}

		addr, err := sess.awaitAddress(regeoCh, provCh, 50*time.Millisecond)
		if test.wantErr {
			if err == nil {
				t.Errorf("%s: awaitAddress expected error, got %q", test.name, addr)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: awaitAddress unexpected error: %v", test.name, err)
			continue
		}
		if addr != test.wantAddress {
			t.Errorf("%s: address = %q, expected %q", test.name, addr, test.wantAddress)
		}
	}
}

func TestAwaitAddressMismatchCarriesBothProvinces(t *testing.T) {
	sess := &Session{cfg: DefaultConfig(), log: zerolog.Nop()}
	regeoCh := make(chan networkReply, 1)
	regeoCh <- networkReply{
		url:  "regeo",
		body: `cb({"regeocode":{"addressComponent":{"province":"上海市"},"formatted_address":"上海市杨浦区某路1号"}})`,
	}
	provCh := make(chan provinceReply, 1)
	provCh <- provinceReply{province: "北京"}

	_, err := sess.awaitAddress(regeoCh, provCh, time.Second)
	var pmErr *ProvinceMismatchError
	if !errors.As(err, &pmErr) {
		t.Fatalf("error %v is not a ProvinceMismatchError", err)
	}
	// Both sides normalized: the page's 上海市 must compare as 上海.
	if pmErr.Resolved != "上海" {
		t.Errorf("Resolved = %q, expected normalized 上海", pmErr.Resolved)
	}
	if pmErr.Expected != "北京" {
		t.Errorf("Expected = %q, expected 北京", pmErr.Expected)
	}
}

func TestCheckActiveOption(t *testing.T) {
	tests := []struct {
		name    string
		states  []bool
		want    int
		wantErr bool
	}{
		{"intended selected", []bool{true, false}, 0, false},
		{"other intended selected", []bool{false, true}, 1, false},
		{"wrong option selected", []bool{false, true}, 0, true},
		{"nothing selected", []bool{false, false}, 0, true},
		{"both selected", []bool{true, true}, 0, true},
	}

	for _, test := range tests {
		err := checkActiveOption(test.states, test.want)
		if test.wantErr && err == nil {
			t.Errorf("%s: expected error", test.name)
		}
		if !test.wantErr && err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
		}
	}
}

func TestOutcomeJSON(t *testing.T) {
	full := Outcome{
		Status:  "待填报",
		Message: "每天只能填报一次",
		Result:  "dry",
		Address: "北京市海淀区学院路37号",
	}
	data, err := json.Marshal(full)
	if err != nil {
		t.Fatalf("marshal outcome: %v", err)
	}
	var back Outcome
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal outcome: %v", err)
	}
	if back != full {
		t.Errorf("outcome round-trip = %+v, expected %+v", back, full)
	}

	// Idempotent short-circuit carries only the status.
	data, err = json.Marshal(Outcome{Status: "已提交"})
	if err != nil {
		t.Fatalf("marshal outcome: %v", err)
	}
	expected := `{"status":"已提交"}`
	if string(data) != expected {
		t.Errorf("minimal outcome = %s, expected %s", data, expected)
	}
}
