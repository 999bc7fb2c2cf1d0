package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/originprotocol/origin-messaging-go/config"
	"github.com/originprotocol/origin-messaging-go/conversation"
	"github.com/originprotocol/origin-messaging-go/identity"
	"github.com/originprotocol/origin-messaging-go/registry"
	"github.com/originprotocol/origin-messaging-go/status"
	"github.com/originprotocol/origin-messaging-go/stream"
)

// runtime bundles the collaborators every subcommand wires together, the
// CLI-process equivalent of the teacher's FacilitatorClient+TokenManager+
// Middleware trio in main.go.
type runtime struct {
	engine   *conversation.Engine
	ceremony *identity.Ceremony
	statuses *status.Store
	wallet   string
}

// bootstrap reads flags/env, builds a Signer+SecretStore+Engine, and binds
// the wallet derived from --private-key. It does not run the enrollment
// ceremony itself — each subcommand decides how far through
// Enable/Publish/Initialize it needs to go.
func bootstrap(cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	keyServer := viper.GetString("key-server")
	if keyServer == "" {
		keyServer = cfg.KeyServerURL
	}

	privateKeyHex := viper.GetString("private-key")
	if privateKeyHex == "" {
		return nil, fmt.Errorf("--private-key is required")
	}
	signer, err := newLocalSigner(privateKeyHex)
	if err != nil {
		return nil, err
	}

	secretStorePath := viper.GetString("secret-store")
	if secretStorePath == "" {
		secretStorePath = cfg.SecretStorePath
	}
	var secrets identity.SecretStore
	if secretStorePath != "" {
		secrets = identity.NewFileSecretStore(secretStorePath)
	} else {
		secrets = identity.NewMemorySecretStore()
	}

	statusStorePath := viper.GetString("status-store")
	if statusStorePath == "" {
		statusStorePath = cfg.StatusStorePath
	}
	var statusKV status.KV
	if statusStorePath != "" {
		statusKV = status.NewFileKV(statusStorePath)
	} else {
		statusKV = status.NewMemoryKV()
	}

	reg := registry.NewClient(keyServer)
	ceremony := identity.NewCeremony(signer, identity.PersonalSign, secrets, reg)
	ingestor := stream.NewIngestor(keyServer, reg)

	engine, err := conversation.NewEngine(keyServer, ceremony, reg, ingestor)
	if err != nil {
		return nil, err
	}
	engine.SetAccount(signer.addr)

	return &runtime{
		engine:   engine,
		ceremony: ceremony,
		statuses: status.NewStore(signer.addr.Hex(), statusKV),
		wallet:   signer.addr.Hex(),
	}, nil
}
