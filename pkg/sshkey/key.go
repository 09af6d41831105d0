package sshkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	fileutil "github.com/projectdiscovery/utils/file"
	"golang.org/x/crypto/ssh"
)

// ControlKeyComment tags the authorized_keys entry this tool installs, so
// revocation can remove exactly that entry and nothing else.
const ControlKeyComment = "fleetpatch-control"

const (
	privateKeyName = "control_ed25519"
	publicKeyName  = "control_ed25519.pub"
)

// Credential is the control keypair used for all post-provisioning access.
type Credential struct {
	PrivateKeyPath string
	PublicKeyPath  string
	// AuthorizedLine is the exact authorized_keys entry installed on hosts.
	AuthorizedLine string
	Signer         ssh.Signer
}

// EnsureControlKey reuses the control keypair under dir if present,
// otherwise generates a new ed25519 pair with the private half at 0600.
func EnsureControlKey(dir string) (*Credential, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	privPath := filepath.Join(dir, privateKeyName)
	pubPath := filepath.Join(dir, publicKeyName)

	if fileutil.FileExists(privPath) && fileutil.FileExists(pubPath) {
		return loadControlKey(privPath, pubPath)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate control key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, ControlKeyComment)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal control key: %w", err)
	}
	if err := os.WriteFile(privPath, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write control key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))) + " " + ControlKeyComment
	if err := os.WriteFile(pubPath, []byte(line+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write public key: %w", err)
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to build signer: %w", err)
	}

	return &Credential{
		PrivateKeyPath: privPath,
		PublicKeyPath:  pubPath,
		AuthorizedLine: line,
		Signer:         signer,
	}, nil
}

func loadControlKey(privPath, pubPath string) (*Credential, error) {
	privBytes, err := os.ReadFile(privPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read control key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(privBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse control key %s: %w", privPath, err)
	}
	pubBytes, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	return &Credential{
		PrivateKeyPath: privPath,
		PublicKeyPath:  pubPath,
		AuthorizedLine: strings.TrimSpace(string(pubBytes)),
		Signer:         signer,
	}, nil
}

// LoadPrivateKey parses operator-provided private key material.
func LoadPrivateKey(material []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(material)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

// WriteEphemeralKey stores key material in a 0600 temp file that lives
// only for the run. The caller shreds it through Manager.Destroy.
func WriteEphemeralKey(material []byte) (string, error) {
	f, err := os.CreateTemp("", "fleetpatch-key-*")
	if err != nil {
		return "", fmt.Errorf("failed to create ephemeral key file: %w", err)
	}
	path := f.Name()
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to restrict ephemeral key file: %w", err)
	}
	if _, err := f.Write(material); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write ephemeral key file: %w", err)
	}
	return path, f.Close()
}

// shred overwrites a file with zeros before unlinking it.
func shred(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := os.WriteFile(path, make([]byte, info.Size()), 0o600); err != nil {
		return err
	}
	return os.Remove(path)
}
