package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeeve/posdb/internal/config"
	"github.com/freeeve/posdb/internal/db"
	"github.com/freeeve/posdb/internal/ingest"
)

func TestDefaultMatchesPackageDefaults(t *testing.T) {
	c := config.Default()
	require.Equal(t, db.DefaultOptions.Buckets, c.Buckets)
	require.Equal(t, ingest.DefaultOptions.BufferSize, c.BufferSize)
	require.Equal(t, "info", c.LogLevel)
	require.Positive(t, c.Threads)
}

func TestLoadECOReturnsNilWithoutDir(t *testing.T) {
	c := config.Default()
	log := c.Logger()
	ecoDB, err := c.LoadECO(log)
	require.NoError(t, err)
	require.Nil(t, ecoDB)
}

func TestLoadECOLoadsTSVDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tsv"), []byte("A00\tPolish Opening\t1. b4\n"), 0o644))

	c := config.Default()
	c.ECODir = dir
	ecoDB, err := c.LoadECO(c.Logger())
	require.NoError(t, err)
	require.NotNil(t, ecoDB)
	require.Equal(t, 1, ecoDB.Count())
}

func TestDBOptionsAppliesOverrides(t *testing.T) {
	c := config.Default()
	c.Buckets = 4
	c.IndexSampleEvery = 256

	opts := c.DBOptions(c.Logger(), nil)
	require.Equal(t, uint32(4), opts.Buckets)
	require.Equal(t, 256, opts.IndexConfig.SampleEvery)
	require.Nil(t, opts.ECO)
}

func TestIngestOptionsAppliesOverrides(t *testing.T) {
	c := config.Default()
	c.Threads = 2
	c.BufferSize = 128
	c.Buckets = 2

	opts := c.IngestOptions(nil, nil)
	require.Equal(t, 2, opts.Threads)
	require.Equal(t, 128, opts.BufferSize)
	require.Equal(t, uint32(2), opts.Buckets)
}
