// Package security resolves and lazily creates financial instruments.
package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
)

// Compile-time interface check
var _ interfaces.SecurityService = (*Service)(nil)

// Service implements SecurityService
type Service struct {
	storage  interfaces.StorageManager
	resolver interfaces.InstrumentResolver // optional
	timeout  time.Duration
	logger   *common.Logger
}

// NewService creates a new security service. resolver may be nil, in which
// case every new instrument is created offline.
func NewService(storage interfaces.StorageManager, resolver interfaces.InstrumentResolver, timeout time.Duration, logger *common.Logger) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		storage:  storage,
		resolver: resolver,
		timeout:  timeout,
		logger:   logger,
	}
}

// NamespacedTicker returns the storage key for an identifier of a kind.
// Stocks are unprefixed; crypto gets the CRYPTO: namespace.
func NamespacedTicker(identifier, kind string) string {
	ticker := strings.ToUpper(strings.TrimSpace(identifier))
	if ticker == "" {
		return ""
	}
	if kind == models.SecurityKindCrypto && !strings.HasPrefix(ticker, models.CryptoPrefix) {
		return models.CryptoPrefix + ticker
	}
	return ticker
}

// FindOrCreate returns the stored security for identifier, creating it from
// the resolver (or offline when resolution fails) when it does not exist.
func (s *Service) FindOrCreate(ctx context.Context, identifier, kind string) (*models.Security, error) {
	if kind == "" {
		kind = models.SecurityKindStock
	}
	id := NamespacedTicker(identifier, kind)
	if id == "" {
		return nil, fmt.Errorf("empty instrument identifier")
	}

	existing, err := s.storage.SecurityStore().Get(ctx, id)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to get security %s: %w", id, err)
	}

	sec := s.resolve(ctx, id, kind)
	sec.ID = id

	err = s.storage.SecurityStore().Create(ctx, sec)
	if errors.Is(err, models.ErrDuplicateRecord) {
		// Created concurrently; the stored row wins.
		return s.storage.SecurityStore().Get(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create security %s: %w", id, err)
	}

	s.logger.Debug().
		Str("security", id).
		Str("kind", kind).
		Bool("offline", sec.Offline).
		Msg("Security created")
	return sec, nil
}

func (s *Service) resolve(ctx context.Context, id, kind string) *models.Security {
	bare := strings.TrimPrefix(id, models.CryptoPrefix)
	offline := &models.Security{Ticker: bare, Name: bare, Kind: kind, Offline: true}
	if s.resolver == nil {
		return offline
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sec, err := s.resolver.ResolveSecurity(callCtx, id)
	if err != nil || sec == nil {
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			s.logger.Warn().Str("security", id).Err(err).Msg("Instrument resolution failed, creating offline")
		}
		return offline
	}

	resolved := *sec
	if resolved.Ticker == "" {
		resolved.Ticker = bare
	}
	if resolved.Name == "" {
		resolved.Name = bare
	}
	if resolved.Kind == "" {
		resolved.Kind = kind
	}
	resolved.Offline = false
	return &resolved
}
