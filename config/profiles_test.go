package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.cue")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadProfiles(t *testing.T) {
	path := writeProfiles(t, `
version: "0.1.0"
storage: {
	region: "eu-west-3"
	bucket: "golcloud-data"
}
database: {
	engine: "postgres"
	host:   "db.internal"
	port:   5432
	schema: "app_data"
}
llm: {
	region:  "us-east-1"
	modelId: "amazon.nova-pro-v1:0"
}
`)

	profiles, err := LoadProfiles(path)
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", profiles.Version)
	assert.Equal(t, "eu-west-3", profiles.Storage.Region)
	assert.Equal(t, "golcloud-data", profiles.Storage.Bucket)
	assert.Equal(t, "postgres", profiles.Database.Engine)
	assert.Equal(t, 5432, profiles.Database.Port)
	assert.Equal(t, "amazon.nova-pro-v1:0", profiles.LLM.ModelID)
}

func TestLoadProfilesMinimal(t *testing.T) {
	path := writeProfiles(t, `version: "0.1.0"`)

	profiles, err := LoadProfiles(path)
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", profiles.Version)
	assert.Empty(t, profiles.Storage.Bucket)
}

func TestLoadProfilesRejectsUnknownFields(t *testing.T) {
	path := writeProfiles(t, `
version: "0.1.0"
storage: {
	bucket:  "ok"
	buckett: "typo"
}
`)

	_, err := LoadProfiles(path)
	assert.ErrorIs(t, err, ErrInvalidProfiles)
}

func TestLoadProfilesRejectsBadEngine(t *testing.T) {
	path := writeProfiles(t, `
version: "0.1.0"
database: engine: "oracle"
`)

	_, err := LoadProfiles(path)
	assert.ErrorIs(t, err, ErrInvalidProfiles)
}

func TestLoadProfilesRejectsMissingVersion(t *testing.T) {
	path := writeProfiles(t, `storage: bucket: "data"`)

	_, err := LoadProfiles(path)
	assert.ErrorIs(t, err, ErrInvalidProfiles)
}

func TestLoadProfilesVersionCompatibility(t *testing.T) {
	compatible, err := versionCompatible("0.1.4")
	require.NoError(t, err)
	assert.True(t, compatible)

	compatible, err = versionCompatible("0.2.0")
	require.NoError(t, err)
	assert.False(t, compatible)

	_, err = versionCompatible("not-a-version")
	assert.Error(t, err)

	path := writeProfiles(t, `version: "0.2.0"`)
	_, err = LoadProfiles(path)
	assert.ErrorIs(t, err, ErrInvalidProfiles)
}

func TestLoadProfilesMissingFile(t *testing.T) {
	_, err := LoadProfiles(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidProfiles)
}

func TestDefaultProfilesPath(t *testing.T) {
	path := DefaultProfilesPath()
	assert.True(t, strings.HasSuffix(path, filepath.Join("golcloud", "profiles.cue")))
}
