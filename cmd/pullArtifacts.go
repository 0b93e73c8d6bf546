package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const (
	roleBackup   = "backup"
	roleSnapshot = "snapshot"
	roleSite     = "site"
)

// artifactSpec names one remote file to download after a run.
type artifactSpec struct {
	Role   string
	Remote string
}

var pullArtifactsFunc = pullArtifactsOverSSH

func pullArtifactsOverSSH(client *ssh.Client, dir string, specs []artifactSpec) (*yamlArtifacts, error) {
	if client == nil {
		return nil, errors.New("nil ssh client")
	}
	sc, err := sftp.NewClient(client)
	if err != nil {
		return nil, fmt.Errorf("start sftp: %w", err)
	}
	defer sc.Close()
	return pullArtifacts(sc, dir, specs)
}

// pullArtifacts copies each remote file into dir as <role>-<name> and
// records its size and SHA-256.
func pullArtifacts(sc *sftp.Client, dir string, specs []artifactSpec) (*yamlArtifacts, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	arts := &yamlArtifacts{Dir: dir}
	for _, sp := range specs {
		a, err := pullOne(sc, dir, sp)
		if err != nil {
			return arts, fmt.Errorf("pull %s: %w", sp.Remote, err)
		}
		arts.Files = append(arts.Files, a)
	}
	backup, okB := arts.digest(roleBackup)
	snap, okS := arts.digest(roleSnapshot)
	arts.BackupMatchesSnapshot = okB && okS && backup == snap
	return arts, nil
}

func pullOne(sc *sftp.Client, dir string, sp artifactSpec) (yamlArtifact, error) {
	rf, err := sc.Open(sp.Remote)
	if err != nil {
		return yamlArtifact{}, err
	}
	defer rf.Close()

	local := filepath.Join(dir, sp.Role+"-"+path.Base(sp.Remote))
	lf, err := os.Create(local)
	if err != nil {
		return yamlArtifact{}, err
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(lf, h), rf)
	if cerr := lf.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return yamlArtifact{}, err
	}
	return yamlArtifact{
		Role:   sp.Role,
		Remote: sp.Remote,
		Local:  local,
		Size:   n,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func (a *yamlArtifacts) digest(role string) (string, bool) {
	for _, f := range a.Files {
		if f.Role == role {
			return f.SHA256, true
		}
	}
	return "", false
}
