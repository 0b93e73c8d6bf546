package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/namsral/flag"

	srv "ngxpatch/tools/sshserv"
)

func main() {
	// Every flag can also be set as SSHSERV_<NAME>, e.g. SSHSERV_PASSWORD.
	fs := flag.NewFlagSetWithEnvPrefix(os.Args[0], "SSHSERV", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:20222", "listen address")
	user := fs.String("user", "root", "accepted user")
	password := fs.String("password", "", "accepted password")
	dir := fs.String("dir", ".", "working directory for shells")
	prompt := fs.String("prompt", "# ", "initial PS1")
	_ = fs.Parse(os.Args[1:])

	if *password == "" {
		_, _ = fmt.Fprintln(os.Stderr, "set -password or SSHSERV_PASSWORD")
		os.Exit(2)
	}

	s, err := srv.Start(*addr, srv.Options{User: *user, Password: *password, Prompt: *prompt, Dir: *dir})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "failed to start test ssh server:", err)
		os.Exit(1)
	}
	_, _ = fmt.Fprintln(os.Stderr, "test ssh server listening on", s.Addr())
	defer s.Stop()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
