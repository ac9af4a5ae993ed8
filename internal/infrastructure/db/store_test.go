package db

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockauth/stockauth/internal/infrastructure/config"
	"github.com/stockauth/stockauth/internal/infrastructure/db/memory"
)

func TestOpen_Memory(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Driver: config.StoreMemory}}

	s, err := Open(context.Background(), cfg, false, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &memory.CredentialStore{}, s.Credentials)
	assert.Empty(t, s.Pingers)
	assert.NoError(t, s.Close(context.Background()))
}

func TestOpen_UnknownDriver(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Driver: "sqlite"}}

	_, err := Open(context.Background(), cfg, false, zerolog.Nop())
	assert.Error(t, err)
}
