package cmd

import (
	"time"
)

// Version is the CLI version string injected at build time via -ldflags.
var Version = "0.1.0"

const (
	defaultSite      = "/etc/nginx/sites-available/default"
	defaultDirective = "client_max_body_size 10M;"
	defaultTestCmd   = "nginx -t"
	defaultReloadCmd = "systemctl reload nginx"
	defaultPrompt    = "# "

	policyAnchor = "anchor"
	policyGlobal = "global"
)

var defaultAnchors = []string{"listen 80;", "listen 443 ssl;"}

var (
	// Global configuration populated by flags, environment variables and the
	// optional config file. Declared here so every subcommand sees them.
	cfgFile        string
	cfgTarget      string
	cfgUser        string
	cfgPassword    string
	cfgKeyPath     string
	cfgPassphrase  string
	cfgKnownHosts  string
	cfgStrictHost  bool
	cfgSudo        bool
	cfgPrompt      string
	cfgSite        string
	cfgBackup      string
	cfgSnapshot    string
	cfgDirective   string
	cfgAnchors     []string
	cfgPolicy      string
	cfgTestCmd     string
	cfgReloadCmd   string
	cfgRunbook     string
	cfgStepTimeout time.Duration
	cfgConnTimeout time.Duration
	cfgOutPath     string
	cfgTranscript  string
	cfgMirror      bool
	cfgPullDir     string
	cfgNoop        bool
	cfgLogLevel    string
	cfgLogFormat   string

	// cfgInitErr holds a config file error raised inside cobra.OnInitialize,
	// which cannot return one itself.
	cfgInitErr error
)

// Allow tests to stub dialing and shell creation
var (
	dialSSHFunc   = dialSSH
	openShellFunc = openPromptShell
)
