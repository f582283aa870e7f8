package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"spdropbot/internal/agent"
	"spdropbot/internal/channel"
	"spdropbot/internal/config"
	"spdropbot/internal/knowledge"

	"github.com/spf13/cobra"
)

type checkResult struct {
	passed, warned, failed int
}

func (r *checkResult) pass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *checkResult) warn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func (r *checkResult) fail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the installation",
		Long: `Verifies that the configuration, database, WhatsApp bridge, LLM
credentials and knowledge files are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("spdropbot doctor v%s\n\n", version)
			var r checkResult

			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}
			cfg, err := config.LoadOrDefaults(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", r.passed, r.failed)
				return fmt.Errorf("config is invalid")
			}
			r.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			if st, err := openStore(ctx, cfg); err != nil {
				r.fail("Database", err.Error())
			} else {
				v, _ := st.SchemaVersion(ctx)
				r.pass("Database", fmt.Sprintf("%s, schema v%d", st.Driver(), v))
				st.Close()
			}

			bridge := channel.NewBridge(channel.BridgeConfig{BaseURL: cfg.WhatsApp.BridgeURL, Logger: logger})
			if st, err := bridge.Status(ctx); err != nil {
				r.fail("WhatsApp bridge", err.Error())
			} else if !st.Connected {
				r.warn("WhatsApp bridge", "reachable but not connected ("+st.State+"), scan the QR code")
			} else {
				r.pass("WhatsApp bridge", cfg.WhatsApp.BridgeURL)
			}

			if cfg.LLM.APIKey == "" {
				r.fail("LLM", "llm.apiKey is empty (set OPENAI_API_KEY)")
			} else {
				r.pass("LLM", cfg.LLM.Model+" at "+cfg.LLM.APIBase)
			}
			if cfg.Transcription.Enabled && cfg.Transcription.APIKey == "" {
				r.warn("Transcription", "enabled without an API key, voice notes get a placeholder")
			}
			if cfg.Vision.Enabled && cfg.Vision.APIKey == "" {
				r.warn("Vision", "enabled without an API key, images get a placeholder")
			}

			if catalog, err := knowledge.LoadFAQ(cfg.Knowledge.FAQFile, logger); err != nil {
				r.fail("FAQ", err.Error())
			} else if catalog.Len() == 0 {
				r.warn("FAQ", "no entries in "+cfg.Knowledge.FAQFile)
			} else {
				r.pass("FAQ", fmt.Sprintf("%d entries", catalog.Len()))
			}
			if cfg.Knowledge.ScriptsFile != "" {
				if scripts, err := knowledge.LoadScripts(cfg.Knowledge.ScriptsFile, logger); err != nil {
					r.fail("Sales scripts", err.Error())
				} else {
					r.pass("Sales scripts", fmt.Sprintf("%d lines", scripts.Len()))
				}
			}
			if _, err := agent.LoadSystemPrompt(cfg.LLM.SystemPromptFile, logger); err != nil {
				r.fail("System prompt", err.Error())
			}

			if err := checkPort(cfg.WhatsApp.ListenAddr); err != nil {
				r.warn("Webhook address", fmt.Sprintf("%s may be in use: %v", cfg.WhatsApp.ListenAddr, err))
			} else {
				r.pass("Webhook address", cfg.WhatsApp.ListenAddr+" available")
			}
			if cfg.Admin.Enabled {
				if err := checkPort(cfg.Admin.ListenAddr); err != nil {
					r.warn("Admin address", fmt.Sprintf("%s may be in use: %v", cfg.Admin.ListenAddr, err))
				} else {
					r.pass("Admin address", cfg.Admin.ListenAddr+" available")
				}
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			return nil
		},
	}
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
