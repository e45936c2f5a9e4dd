package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cbr-rates-crawler/internal/config"
)

func TestDefaultLocationResolvesWithoutSystemZoneinfo(t *testing.T) {
	t.Setenv("ZONEINFO", t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)
	loc, err := cfg.Crawler.TimeLocation()
	require.NoError(t, err)
	require.Equal(t, "Europe/Moscow", loc.String())
}
