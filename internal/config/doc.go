// Package config reads tenderflow settings from the environment.
//
// Load parses variables into Config with caarlos0/env and then runs
// Validate. LLM_API_KEY is the only variable without a default.
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv := http.NewServer(http.Config{Port: cfg.HTTPPort})
package config
