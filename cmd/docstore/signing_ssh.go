package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/odvcencio/docstore/pkg/repo"
)

const commitSignaturePrefix = "sshsig-v1"

// newSSHCommitSigner loads the SSH private key at keyPath and returns a
// commit signer for it along with the resolved path. An encrypted key is
// opened with DOCSTORE_SIGNING_PASSPHRASE.
func newSSHCommitSigner(keyPath string) (repo.CommitSigner, string, error) {
	path, err := expandUserPath(strings.TrimSpace(keyPath))
	if err != nil {
		return nil, "", err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read signing key %q: %w", path, err)
	}
	signer, err := parseSigningKey(raw)
	if err != nil {
		return nil, "", fmt.Errorf("parse signing key %q: %w", path, err)
	}
	return sshCommitSigner(signer), path, nil
}

func parseSigningKey(raw []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(raw)
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return signer, err
	}
	pass := os.Getenv("DOCSTORE_SIGNING_PASSPHRASE")
	if pass == "" {
		return nil, fmt.Errorf("key is encrypted and DOCSTORE_SIGNING_PASSPHRASE is not set")
	}
	return ssh.ParsePrivateKeyWithPassphrase(raw, []byte(pass))
}

// sshCommitSigner renders signatures as
// sshsig-v1:<format>:<base64 public key>:<base64 signature>.
func sshCommitSigner(signer ssh.Signer) repo.CommitSigner {
	pub := base64.StdEncoding.EncodeToString(signer.PublicKey().Marshal())
	return func(payload []byte) (string, error) {
		sig, err := signer.Sign(rand.Reader, payload)
		if err != nil {
			return "", fmt.Errorf("sign commit: %w", err)
		}
		return fmt.Sprintf("%s:%s:%s:%s", commitSignaturePrefix, sig.Format, pub,
			base64.StdEncoding.EncodeToString(sig.Blob)), nil
	}
}

func expandUserPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("signing key path is empty")
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Abs(path)
}
