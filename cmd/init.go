package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// init configures the root command's persistent flags, binds them to
// environment variables via Viper, and registers all subcommands.
func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Path to a YAML config file with flag values")
	pf.StringVarP(&cfgTarget, "target", "t", "", "Target host:port (port 22 assumed when omitted)")
	pf.StringVarP(&cfgUser, "user", "u", "root", "SSH username")
	pf.StringVar(&cfgPassword, "password", "", "SSH password (or set NGXPATCH_PASSWORD)")
	pf.StringVar(&cfgKeyPath, "key", "", "Path to SSH private key (PEM, OpenSSH)")
	pf.StringVar(&cfgPassphrase, "passphrase", "", "Private key passphrase (or set NGXPATCH_PASSPHRASE)")
	pf.StringVar(&cfgKnownHosts, "known-hosts", filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"), "Path to known_hosts file")
	pf.BoolVar(&cfgStrictHost, "strict-host-key", false, "Require host key verification (default accepts any host key)")
	pf.BoolVar(&cfgSudo, "sudo", false, "Escalate with 'sudo -i' after login, answering the password prompt")
	pf.StringVar(&cfgPrompt, "prompt", defaultPrompt, "Substring that marks the remote shell prompt")
	pf.StringVar(&cfgSite, "site", defaultSite, "Remote nginx site configuration file")
	pf.StringVar(&cfgBackup, "backup", "", "Remote backup path (default <site>.bak)")
	pf.StringVar(&cfgSnapshot, "snapshot", "", "Remote pre-edit snapshot path (default /tmp/<site name>.orig)")
	pf.StringVar(&cfgDirective, "directive", defaultDirective, "Directive line to insert after each anchor")
	pf.StringSliceVar(&cfgAnchors, "anchor", defaultAnchors, "Anchor line after which the directive is inserted (repeatable)")
	pf.StringVar(&cfgPolicy, "policy", policyAnchor, "Presence check: 'anchor' inserts after every anchor not already followed by the directive, even when it appears elsewhere in the file; 'global' leaves the file untouched if the directive appears anywhere")
	pf.StringVar(&cfgTestCmd, "test-cmd", defaultTestCmd, "Remote configuration test command")
	pf.StringVar(&cfgReloadCmd, "reload-cmd", defaultReloadCmd, "Remote service reload command")
	pf.StringVar(&cfgRunbook, "runbook", "", "YAML runbook replacing the built-in steps")
	pf.DurationVar(&cfgStepTimeout, "step-timeout", 30*time.Second, "Per-step timeout (e.g., 30s)")
	pf.DurationVar(&cfgConnTimeout, "conn-timeout", 15*time.Second, "Connection and login timeout")
	pf.StringVarP(&cfgOutPath, "out", "o", "", "Path to YAML run report")
	pf.StringVar(&cfgTranscript, "transcript", "", "Also write the session transcript to this file")
	pf.BoolVar(&cfgMirror, "mirror", true, "Mirror the session transcript to stdout")
	pf.StringVar(&cfgPullDir, "pull-dir", "", "Download backup, snapshot and patched file over SFTP into this directory (built-in runbooks only)")
	pf.BoolVar(&cfgNoop, "noop", false, "Do not connect; print the planned command lines")
	pf.StringVar(&cfgLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&cfgLogFormat, "log-format", "text", "Log format (text, json)")

	bindFlags()

	cobra.OnInitialize(applyConfig)

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(verifyCmd)
}

var envKeyReplacer = strings.NewReplacer("-", "_")

var boundFlags = []string{
	"target", "user", "password", "key", "passphrase", "known-hosts",
	"strict-host-key", "sudo", "prompt", "site", "backup", "snapshot",
	"directive", "anchor", "policy", "test-cmd", "reload-cmd", "runbook",
	"step-timeout", "conn-timeout", "out", "transcript", "mirror", "pull-dir",
	"noop", "log-level", "log-format",
}

// bindFlags binds every persistent flag to viper and enables NGXPATCH_*
// environment overrides.
func bindFlags() {
	for _, name := range boundFlags {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
	viper.SetEnvPrefix("NGXPATCH")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()
}

// applyConfig reads the optional config file and pulls viper values back
// into the cfg variables. Viper precedence applies: changed flag, env,
// config file, flag default.
func applyConfig() {
	cfgInitErr = nil
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			cfgInitErr = fmt.Errorf("read config %s: %w", cfgFile, err)
			return
		}
	}

	for name, dst := range map[string]*string{
		"target":      &cfgTarget,
		"user":        &cfgUser,
		"password":    &cfgPassword,
		"key":         &cfgKeyPath,
		"passphrase":  &cfgPassphrase,
		"known-hosts": &cfgKnownHosts,
		"prompt":      &cfgPrompt,
		"site":        &cfgSite,
		"backup":      &cfgBackup,
		"snapshot":    &cfgSnapshot,
		"directive":   &cfgDirective,
		"policy":      &cfgPolicy,
		"test-cmd":    &cfgTestCmd,
		"reload-cmd":  &cfgReloadCmd,
		"runbook":     &cfgRunbook,
		"out":         &cfgOutPath,
		"transcript":  &cfgTranscript,
		"pull-dir":    &cfgPullDir,
		"log-level":   &cfgLogLevel,
		"log-format":  &cfgLogFormat,
	} {
		if v := viper.GetString(name); v != "" {
			*dst = v
		}
	}
	if v := configAnchors(); len(v) > 0 {
		cfgAnchors = v
	}
	if v := viper.GetString("step-timeout"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfgStepTimeout = d
		}
	}
	if v := viper.GetString("conn-timeout"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfgConnTimeout = d
		}
	}
	// Booleans
	if viper.IsSet("strict-host-key") {
		cfgStrictHost = viper.GetBool("strict-host-key")
	}
	if viper.IsSet("sudo") {
		cfgSudo = viper.GetBool("sudo")
	}
	if viper.IsSet("mirror") {
		cfgMirror = viper.GetBool("mirror")
	}
	if viper.IsSet("noop") {
		cfgNoop = viper.GetBool("noop")
	}
}

// configAnchors reads the anchor list. A plain string (environment or a
// scalar in the config file) is split as CSV like the flag itself, so
// "listen 8080;" stays one anchor.
func configAnchors() []string {
	raw, ok := viper.Get("anchor").(string)
	if !ok {
		return viper.GetStringSlice("anchor")
	}
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	rec, err := csv.NewReader(strings.NewReader(raw)).Read()
	if err != nil {
		cfgInitErr = fmt.Errorf("anchor %q: %w", raw, err)
		return nil
	}
	return rec
}
