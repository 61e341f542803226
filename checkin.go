package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/tidwall/gjson"
)

const (
	indexURL = "https://app.buaa.edu.cn/site/buaaStudentNcov/index"

	// Fixed page contract.
	selDashboard     = ".buaaStudentNcov-bg"
	selLoginApp      = "#app"
	selLoginButton   = "#app .btn"
	selLoginInputs   = ".content input"
	selStatus        = "div.sub-info"
	selGeoInput      = `div[name="szdd"] div[name="area"] .title-input input`
	selOnCampusOpts  = `div[name="sfzs"] .warp-list-choose > div`
	selLoadEffect    = ".loadEffect"
	selConfirmDialog = "#wapcf"
	selAlertDialog   = "#wapat"
	selConfirmTitle  = ".wapcf-title"
	selAlertTitle    = ".wapat-title"
	selConfirmOK     = ".wapcf-btn-ok"
	selFinalAlert    = "div.alert"

	confirmPhrase = "每天只能填报一次"
	successPhrase = "提交信息成功"
)

// readyJS holds until either the login form or the authenticated dashboard
// is observably present, ignoring transient overlays that share the same
// polling window.
const readyJS = `() => {
	const hint = document.getElementsByClassName('pophint')[0];
	if (hint && hint.offsetParent) return false;
	const loading = document.getElementById('progress_loading');
	if (loading && loading.offsetParent) return false;
	if (document.getElementById('app')) return true;
	const sub = document.querySelector('.buaaStudentNcov-bg .sub-info');
	return !!(sub && sub.offsetParent);
}`

// Outcome is the terminal result of a run, emitted as one JSON line.
type Outcome struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  string `json:"result,omitempty"`
	Address string `json:"address,omitempty"`
}

type statusKind int

const (
	statusPending statusKind = iota
	statusSubmitted
	statusNotDue
)

func classifyStatus(s string) statusKind {
	switch {
	case strings.Contains(s, "已提交"):
		return statusSubmitted
	case strings.Contains(s, "未到"):
		return statusNotDue
	default:
		return statusPending
	}
}

// checkConfirmTitle validates the confirm dialog's title against the
// expected once-per-day phrase.
func checkConfirmTitle(title string) error {
	if !strings.Contains(title, confirmPhrase) {
		return &UnexpectedDialogError{Variant: "confirm", Message: title}
	}
	return nil
}

// Work drives one check-in: readiness, login if needed, the idempotence
// check, the geolocation race and the submission state machine. The state
// machine only moves forward; any failure is terminal.
func (s *Session) Work() (*Outcome, error) {
	page := s.page
	timeout := s.cfg.WaitTimeout()

	ic := newInterceptor(s.cfg, s.log)
	if !ic.override {
		s.log.Warn().Msg("no position configured, using original geolocation")
	}
	if _, err := ic.install(page); err != nil {
		return nil, fmt.Errorf("failed to install interception: %w", err)
	}

	page.EnableDomain(proto.NetworkEnable{})
	infoCh := watchResponse(page, "get-info")

	s.log.Info().Msg("navigating")
	if err := page.Navigate(indexURL); err != nil {
		return nil, fmt.Errorf("failed to navigate: %w", err)
	}

	s.log.Info().Msg("waiting for page")
	if err := s.op().Wait(rod.Eval(readyJS)); err != nil {
		return nil, fmt.Errorf("page never became ready: %w", err)
	}

	hasDash, _, err := page.Has(selDashboard)
	if err != nil {
		return nil, fmt.Errorf("dashboard probe: %w", err)
	}
	if !hasDash {
		if err := s.login(); err != nil {
			return nil, err
		}
	}

	s.echoDayInfo(infoCh, timeout)

	// The geo input appearing means the dashboard has finished rendering,
	// whether we came through login or straight from cached cookies.
	geoInput, err := s.op().Element(selGeoInput)
	if err != nil {
		return nil, fmt.Errorf("geolocation input not found: %w", err)
	}
	if err := geoInput.WaitVisible(); err != nil {
		return nil, fmt.Errorf("geolocation input never visible: %w", err)
	}

	submitEl, err := s.op().Element(selStatus)
	if err != nil {
		return nil, fmt.Errorf("status element not found: %w", err)
	}
	status, err := submitEl.Text()
	if err != nil {
		return nil, fmt.Errorf("status text: %w", err)
	}
	s.log.Info().Str("status", status).Msg("status")

	// The session is authenticated from here on; capture it even if a
	// later stage fails.
	s.saveCookiesAsync()

	if !s.cfg.SkipChecks {
		switch classifyStatus(status) {
		case statusNotDue:
			return nil, &StatusNotDueError{Status: status}
		case statusSubmitted:
			return &Outcome{Status: status}, nil
		}
	}

	var provCh <-chan provinceReply
	if !s.cfg.DisableProvinceCheck {
		provCh = fetchIPProvinceAsync(timeout)
	}

	// Armed before the capture trigger so the first matching response
	// cannot slip past the listener.
	regeoCh := watchResponse(page, "regeo")

	if s.cfg.CheckOnCampus != nil {
		if err := s.selectOnCampus(*s.cfg.CheckOnCampus); err != nil {
			return nil, err
		}
	}

	// Idle -> GeoCaptureTriggered. Re-query on a fresh deadline: the
	// earlier handles were bound to waits that have been running since
	// readiness.
	s.log.Info().Msg("waiting for geolocation")
	geoInput, err = s.op().Element(selGeoInput)
	if err != nil {
		return nil, fmt.Errorf("geolocation input: %w", err)
	}
	if err := geoInput.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("geolocation input click: %w", err)
	}
	if err := s.waitLoadEffect(); err != nil {
		return nil, err
	}

	// GeoCaptureTriggered -> GeoResolved
	addr, err := s.awaitAddress(regeoCh, provCh, timeout)
	if err != nil {
		return nil, err
	}

	// GeoResolved -> FormSubmitted
	submitEl, err = s.op().Element(selStatus)
	if err != nil {
		return nil, fmt.Errorf("submit control: %w", err)
	}
	if err := submitEl.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("submit click: %w", err)
	}

	// FormSubmitted -> DialogShown: two mutually exclusive outcomes, raced.
	winner, box, err := s.raceVisible(selConfirmDialog, selAlertDialog)
	if err != nil {
		return nil, fmt.Errorf("no dialog after submission: %w", err)
	}
	if winner == selAlertDialog {
		title := s.dialogText(box, selAlertTitle)
		return nil, &UnexpectedDialogError{Variant: "attention", Message: title}
	}

	msg := s.dialogText(box, selConfirmTitle)
	s.log.Info().Str("message", msg).Msg("confirm dialog")
	if err := checkConfirmTitle(msg); err != nil {
		return nil, err
	}

	okBtn, err := box.Element(selConfirmOK)
	if err != nil {
		return nil, fmt.Errorf("confirm button not found: %w", err)
	}

	// DialogShown -> DryStop
	if s.cfg.DryRun {
		return &Outcome{Status: status, Message: msg, Result: "dry", Address: addr}, nil
	}

	// DialogShown -> Confirmed
	if err := okBtn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("confirm click: %w", err)
	}

	alert, err := s.op().Element(selFinalAlert)
	if err != nil {
		return nil, fmt.Errorf("final alert not found: %w", err)
	}
	if err := alert.WaitVisible(); err != nil {
		return nil, fmt.Errorf("final alert never visible: %w", err)
	}
	result, err := alert.Text()
	if err != nil {
		return nil, fmt.Errorf("final alert text: %w", err)
	}
	s.log.Info().Str("result", result).Msg("result")
	if !strings.Contains(result, successPhrase) {
		return nil, &SubmissionFailedError{Text: result}
	}

	// Confirmed -> Done
	return &Outcome{Status: status, Message: msg, Result: result, Address: addr}, nil
}

// login fills the credential form. No navigation wait afterwards: that
// hangs in this host environment, and every downstream step re-polls.
func (s *Session) login() error {
	s.log.Info().Msg("logging in")
	p := s.op()

	btn, err := p.Element(selLoginButton)
	if err != nil {
		return fmt.Errorf("login button not found: %w", err)
	}
	if err := btn.WaitVisible(); err != nil {
		return fmt.Errorf("login button never visible: %w", err)
	}

	app, err := p.Element(selLoginApp)
	if err != nil {
		return fmt.Errorf("login container not found: %w", err)
	}
	inputs, err := app.Elements(selLoginInputs)
	if err != nil {
		return fmt.Errorf("credential inputs: %w", err)
	}
	if len(inputs) < 2 {
		return fmt.Errorf("expected 2 credential inputs, found %d", len(inputs))
	}

	if err := inputs[0].Input(s.cfg.Username); err != nil {
		return fmt.Errorf("username input: %w", err)
	}
	if err := inputs[1].Input(s.cfg.Password); err != nil {
		return fmt.Errorf("password input: %w", err)
	}
	if err := btn.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("login click: %w", err)
	}
	return nil
}

// echoDayInfo logs previously filed records once the page's get-info call
// lands. Informational only; a quiet page just skips it.
func (s *Session) echoDayInfo(infoCh <-chan networkReply, timeout time.Duration) {
	select {
	case hit := <-infoCh:
		d := gjson.Get(hit.body, "d")
		logDayInfo(s.log, d.Get("info"))
		logDayInfo(s.log, d.Get("oldInfo"))
	case <-time.After(timeout):
		s.log.Warn().Msg("no get-info response observed")
	}
}

// selectOnCampus picks one of the two mutually exclusive on-campus
// controls, verifying the fixed 是/否 label order and that exactly the
// intended control ends up selected.
func (s *Session) selectOnCampus(onCampus bool) error {
	p := s.op()

	// The container renders with the rest of the form; wait for it before
	// counting options.
	if _, err := p.Element(selOnCampusOpts); err != nil {
		return fmt.Errorf("on-campus options not found: %w", err)
	}
	opts, err := p.Elements(selOnCampusOpts)
	if err != nil {
		return fmt.Errorf("on-campus options: %w", err)
	}
	if len(opts) != 2 {
		return fmt.Errorf("unexpected number of on-campus options: %d", len(opts))
	}

	prefixes := []string{"是", "否"}
	for i, opt := range opts {
		text, err := opt.Text()
		if err != nil {
			return fmt.Errorf("on-campus option %d text: %w", i, err)
		}
		if !strings.HasPrefix(text, prefixes[i]) {
			return fmt.Errorf("unexpected text %q for on-campus option %d", text, i)
		}
	}

	want := 0
	if !onCampus {
		want = 1
	}
	s.log.Info().Bool("on_campus", onCampus).Msg("selecting on-campus option")
	if err := opts[want].Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("on-campus click: %w", err)
	}

	// The active marker can land a frame behind the click; wait for the
	// intended control before checking exclusivity.
	const activeJS = `() => !!this.querySelector("span.active")`
	if err := opts[want].Wait(rod.Eval(activeJS)); err != nil {
		return fmt.Errorf("on-campus option %d never became active: %w", want, err)
	}

	states := make([]bool, len(opts))
	for i, opt := range opts {
		res, err := opt.Eval(activeJS)
		if err != nil {
			return fmt.Errorf("on-campus option %d state: %w", i, err)
		}
		states[i] = res.Value.Bool()
	}
	return checkActiveOption(states, want)
}

// checkActiveOption validates the observed active markers: exactly one
// control selected, and it must be the intended one.
func checkActiveOption(states []bool, want int) error {
	active := -1
	for i, on := range states {
		if !on {
			continue
		}
		if active >= 0 {
			return fmt.Errorf("more than one on-campus option selected")
		}
		active = i
	}
	if active != want {
		return fmt.Errorf("on-campus option %d selected, wanted %d", active, want)
	}
	return nil
}

// waitLoadEffect waits for the geolocation loading indicator to appear and
// then disappear, bounding both directions.
func (s *Session) waitLoadEffect() error {
	load, err := s.op().Element(selLoadEffect)
	if err != nil {
		return fmt.Errorf("loading indicator not found: %w", err)
	}
	if err := load.WaitVisible(); err != nil {
		return fmt.Errorf("loading indicator never appeared: %w", err)
	}
	if err := load.WaitInvisible(); err != nil {
		return fmt.Errorf("loading indicator never cleared: %w", err)
	}
	return nil
}

// awaitAddress resolves the geolocation race: the first reverse-geocoding
// response decides the run. When the province check is armed, the decoded
// province must match the IP-derived one.
func (s *Session) awaitAddress(regeoCh <-chan networkReply, provCh <-chan provinceReply, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var hit networkReply
	select {
	case hit = <-regeoCh:
	case <-deadline.C:
		return "", fmt.Errorf("reverse-geocoding response not observed within %v", timeout)
	}

	res, err := decodeRegeo(hit.body)
	if err != nil {
		return "", err
	}

	if provCh != nil {
		var pr provinceReply
		select {
		case pr = <-provCh:
		case <-deadline.C:
			return "", fmt.Errorf("ip province lookup not finished within %v", timeout)
		}
		if pr.err != nil {
			return "", fmt.Errorf("ip province lookup: %w", pr.err)
		}
		resolved := normalizeProvince(res.Province)
		if resolved != pr.province {
			return "", &ProvinceMismatchError{Resolved: resolved, Expected: pr.province}
		}
		s.log.Info().Str("province", resolved).Msg("province verified")
	}

	s.log.Info().Str("address", res.Address).Msg("resolved address")
	return res.Address, nil
}

// raceVisible waits for whichever selector becomes visible first. The two
// waits run independently; the winner tags the outcome. The returned
// element is re-queried on the session page so it outlives the race
// deadline.
func (s *Session) raceVisible(selectors ...string) (string, *rod.Element, error) {
	type hit struct {
		sel string
		err error
	}

	p := s.op()
	ch := make(chan hit, len(selectors))
	for _, sel := range selectors {
		sel := sel
		go func() {
			el, err := p.Element(sel)
			if err == nil {
				err = el.WaitVisible()
			}
			ch <- hit{sel: sel, err: err}
		}()
	}

	var firstErr error
	for range selectors {
		h := <-ch
		if h.err == nil {
			el, err := s.op().Element(h.sel)
			if err != nil {
				return "", nil, err
			}
			return h.sel, el, nil
		}
		if firstErr == nil {
			firstErr = h.err
		}
	}
	return "", nil, firstErr
}

// dialogText reads a title element under the dialog, tolerating a missing
// node: the dialog text is diagnostic, never load-bearing.
func (s *Session) dialogText(box *rod.Element, sel string) string {
	el, err := box.Element(sel)
	if err != nil {
		return ""
	}
	text, err := el.Text()
	if err != nil {
		return ""
	}
	return text
}
