package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/aetherfit/aetherfit-front/internal"
	"github.com/aetherfit/aetherfit-front/internal/config"
	"github.com/aetherfit/aetherfit-front/internal/log"
)

var BuildVersion = "dev"

func defaultConfig() map[string]any {
	return map[string]any{
		"version": config.SupportedVersion,
		"front": map[string]any{
			"baseURL":           "https://app.aetherfit.example",
			"addr":              ":8080",
			"name":              "aetherfit-front",
			"allowedOrigins":    []string{"https://app.aetherfit.example"},
			"sessionKey":        map[string]string{"$env": "AETHERFIT_SESSION_KEY"},
			"clientIdleTimeout": "24h",
			"cleanupInterval":   "5m",
			"routes": map[string]string{
				"signIn":       "/auth/login",
				"unauthorized": "/unauthorizedaccess",
				"home":         "/",
			},
			"signInRateLimit": map[string]any{
				"perMinute": 10,
				"burst":     5,
			},
		},
		"api": map[string]any{
			"baseURL":   "https://api.aetherfit.example",
			"timeout":   "15s",
			"resources": config.DefaultResources(),
		},
		"identity": map[string]any{
			"password": map[string]any{
				"endpoint": "https://identitytoolkit.googleapis.com/v1/accounts:signInWithPassword",
				"apiKey":   map[string]string{"$env": "AETHERFIT_IDENTITY_API_KEY"},
			},
			"federated": []any{
				map[string]any{
					"provider":       "google",
					"clientId":       map[string]string{"$env": "GOOGLE_CLIENT_ID"},
					"clientSecret":   map[string]string{"$env": "GOOGLE_CLIENT_SECRET"},
					"redirectUri":    "https://app.aetherfit.example/auth/callback/google",
					"allowedDomains": []string{},
				},
			},
		},
		"tokenStorage": map[string]any{
			"kind": "memory",
		},
		"roles": map[string]any{
			"cacheTtl":     "5m",
			"invalidateOn": []string{"users", "trainers"},
		},
	}
}

func generateDefaultConfig(path string) error {
	data, err := json.MarshalIndent(defaultConfig(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func validateConfig(path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Printf("Validating: %s\n", path)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for _, err := range result.Errors {
			if err.Path != "" {
				fmt.Printf("  - %s: %s\n", err.Path, err.Message)
			} else {
				fmt.Printf("  - %s\n", err.Message)
			}
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(result.Warnings))
		for _, warn := range result.Warnings {
			if warn.Path != "" {
				fmt.Printf("  - %s: %s\n", warn.Path, warn.Message)
			} else {
				fmt.Printf("  - %s\n", warn.Message)
			}
		}
	}

	fmt.Println()
	switch {
	case len(result.Errors) == 0 && len(result.Warnings) == 0:
		fmt.Println("Result: PASS")
	case len(result.Errors) == 0:
		fmt.Println("Result: PASS (with warnings)")
	default:
		fmt.Println("Result: FAIL")
	}

	if len(result.Errors) > 0 {
		return fmt.Errorf("validation failed: %d error(s)", len(result.Errors))
	}
	return nil
}

func main() {
	conf := flag.String("config", "", "path to config file (required)")
	version := flag.Bool("version", false, "print version and exit")
	help := flag.Bool("help", false, "print help and exit")
	configInit := flag.String("config-init", "", "generate default config file at specified path")
	validate := flag.Bool("validate", false, "validate config file and exit")
	flag.Parse()
	if *help {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}

	if *validate {
		if *conf == "" {
			fmt.Fprintf(os.Stderr, "Error: -config flag is required for validation\n")
			os.Exit(1)
		}
		if err := validateConfig(*conf); err != nil {
			os.Exit(1)
		}
		return
	}

	if *conf == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n")
		fmt.Fprintf(os.Stderr, "Run with -help for usage information\n")
		os.Exit(1)
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}

	log.LogInfoWithFields("main", "Starting aetherfit-front", map[string]any{
		"version": BuildVersion,
		"config":  *conf,
	})

	front, err := internal.NewAetherFront(context.Background(), cfg)
	if err != nil {
		log.LogError("Failed to create AetherFit front: %v", err)
		os.Exit(1)
	}

	if err := front.Run(); err != nil {
		log.LogError("Server stopped with error: %v", err)
		os.Exit(1)
	}
}
