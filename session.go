package main

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog"
)

// Page enumeration occasionally stalls in constrained environments; the
// doubling-timeout relaunch loop works around it. The attempt cap keeps a
// permanently broken environment from retrying forever.
const (
	initialPagesTimeout = 3 * time.Second
	retryPagesTimeout   = 5 * time.Second
	maxPagesAttempts    = 6
)

// Session owns the one browser, the one page, and the single cookie-save
// path for a run.
type Session struct {
	cfg      *Config
	store    *cookieStore
	log      zerolog.Logger
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	saveDone chan struct{}
}

func launchBrowser(cfg *Config) (*launcher.Launcher, *rod.Browser, error) {
	// Leakless deadlocks on Windows, see go-rod/rod#853.
	l := launcher.New().
		Leakless(runtime.GOOS != "windows").
		Headless(cfg.Browser.Headless)

	if cfg.Browser.UserDataDir != "" {
		l = l.UserDataDir(cfg.Browser.UserDataDir)
	}
	if cfg.Browser.NoSandbox {
		l = l.NoSandbox(true)
	}
	if cfg.Browser.Bin != "" {
		l = l.Bin(cfg.Browser.Bin)
	} else if path, ok := launcher.LookPath(); ok {
		l = l.Bin(path)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	return l, browser, nil
}

// acquirePages launches a browser and races page enumeration against a
// timer. On a stall the instance is discarded, the timeout doubled and the
// launch repeated, up to maxPagesAttempts.
func acquirePages(cfg *Config, log zerolog.Logger, timeout time.Duration) (*launcher.Launcher, *rod.Browser, rod.Pages, error) {
	for attempt := 1; attempt <= maxPagesAttempts; attempt++ {
		log.Info().Dur("timeout", timeout).Msg("starting browser")
		l, browser, err := launchBrowser(cfg)
		if err != nil {
			return nil, nil, nil, err
		}

		type enumReply struct {
			pages rod.Pages
			err   error
		}
		ch := make(chan enumReply, 1)
		go func() {
			pages, err := browser.Pages()
			ch <- enumReply{pages: pages, err: err}
		}()

		select {
		case r := <-ch:
			if r.err != nil {
				browser.Close()
				l.Cleanup()
				return nil, nil, nil, fmt.Errorf("failed to enumerate pages: %w", r.err)
			}
			return l, browser, r.pages, nil
		case <-time.After(timeout):
			log.Warn().Dur("timeout", timeout).Msg("page enumeration stalled, relaunching")
			browser.Close()
			l.Cleanup()
			timeout *= 2
		}
	}
	return nil, nil, nil, ErrBrowserLaunchTimeout
}

// NewSession boots the browser, obtains the working page and installs any
// cached cookies for the configured user. One extra acquire round with a
// larger starting timeout runs before the failure is treated as fatal.
func NewSession(cfg *Config, store *cookieStore, log zerolog.Logger) (*Session, error) {
	l, browser, pages, err := acquirePages(cfg, log, initialPagesTimeout)
	if errors.Is(err, ErrBrowserLaunchTimeout) {
		log.Warn().Msg("timed out, retrying")
		l, browser, pages, err = acquirePages(cfg, log, retryPagesTimeout)
	}
	if err != nil {
		return nil, err
	}

	var page *rod.Page
	if len(pages) > 0 {
		page = pages[0]
	} else {
		log.Warn().Msg("creating a new page")
		page, err = stealth.Page(browser)
		if err != nil {
			browser.Close()
			l.Cleanup()
			return nil, fmt.Errorf("failed to create page: %w", err)
		}
	}

	s := &Session{
		cfg:      cfg,
		store:    store,
		log:      log,
		launcher: l,
		browser:  browser,
		page:     page,
	}

	log.Info().Msg("loading cookies")
	if cookies := store.Get(cfg.Username); cookies != nil {
		if err := page.SetCookies(proto.CookiesToParams(cookies)); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to install cookies: %w", err)
		}
	} else {
		log.Info().Str("user", cfg.Username).Msg("no cookies cached, logging in first")
	}

	return s, nil
}

// op returns a page clone carrying a fresh per-wait deadline.
func (s *Session) op() *rod.Page {
	return s.page.Timeout(s.cfg.WaitTimeout())
}

// saveCookiesAsync kicks off the single cookie persistence task. Called as
// soon as the session is known to be authenticated so later failures still
// capture it; teardown awaits completion.
func (s *Session) saveCookiesAsync() {
	if s.saveDone != nil {
		return
	}
	done := make(chan struct{})
	s.saveDone = done
	go func() {
		defer close(done)
		cookies, err := s.page.Cookies(nil)
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to read cookies")
			return
		}
		s.store.Set(s.cfg.Username, cookies)
		s.log.Info().Str("path", s.store.path).Msg("saving cookies")
		if err := s.store.Save(); err != nil {
			s.log.Warn().Err(err).Msg("failed to save cookies")
		}
	}()
}

// Close waits for any in-flight cookie save and releases the browser.
// Runs regardless of how the main flow ended.
func (s *Session) Close() {
	if s.saveDone != nil {
		<-s.saveDone
	}
	if s.browser != nil {
		s.browser.Close()
	}
	if s.launcher != nil {
		s.launcher.Cleanup()
	}
}
