package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	dryRun := flag.Bool("dry-run", false, "Stop at the confirmation dialog without clicking through")
	skipChecks := flag.Bool("skip-checks", false, "Continue past already-submitted and not-yet-due states")
	disableProvince := flag.Bool("disable-province-check", false, "Skip the IP-based province verification")
	shifted := flag.Bool("shifted", false, "Pass the reverse-geocoding call through unmodified")
	hang := flag.Bool("hang", false, "Pause on stdin before teardown")
	debug := flag.Bool("debug", false, "Enable detailed debug logging")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *dryRun {
		cfg.DryRun = true
	}
	if *skipChecks {
		cfg.SkipChecks = true
	}
	if *disableProvince {
		cfg.DisableProvinceCheck = true
	}
	if *shifted {
		cfg.Shifted = true
	}
	if *hang {
		cfg.Hang = true
	}
	if *debug {
		cfg.DebugMode = true
	}

	log := newLogger(cfg)

	if cfg.Username == "" || cfg.Password == "" {
		log.Fatal().Str("config", *configPath).Msg("username and password must be configured")
	}

	store, err := loadCookieStore(cfg.CookieFile)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.CookieFile).Msg("cookie cache unreadable, starting empty")
	}

	// Bootstrap failures exit directly: there is nothing to tear down yet.
	sess, err := NewSession(cfg, store, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to create browser session")
		os.Exit(1)
	}

	outcome, err := sess.Work()
	if err != nil {
		log.Error().Err(err).Msg("worker failed")
	} else {
		line, merr := json.Marshal(outcome)
		if merr != nil {
			log.Error().Err(merr).Msg("failed to encode outcome")
			err = merr
		} else {
			fmt.Println(string(line))
		}
	}

	if cfg.Hang {
		fmt.Fprintln(os.Stderr, "done, press enter to close")
		bufio.NewReader(os.Stdin).ReadString('\n')
	}

	sess.Close()

	if err != nil {
		os.Exit(1)
	}
}
