package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/Masterminds/semver/v3"
	"github.com/adrg/xdg"
)

// ProfilesVersion is the profile schema version this package reads.
// Profile files declare their version to indicate compatibility.
const ProfilesVersion = "0.1.0"

//go:embed profiles_schema.cue
var profilesSchema []byte

// Profiles is a validated profile file: shared defaults for the service
// clients, kept outside the environment.
type Profiles struct {
	Version  string          `json:"version"`
	Storage  StorageProfile  `json:"storage,omitempty"`
	Database DatabaseProfile `json:"database,omitempty"`
	LLM      LLMProfile      `json:"llm,omitempty"`
}

// StorageProfile carries object-storage defaults.
type StorageProfile struct {
	Region   string `json:"region,omitempty"`
	Bucket   string `json:"bucket,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// DatabaseProfile carries relational-database defaults.
type DatabaseProfile struct {
	Engine     string `json:"engine,omitempty"`
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	Database   string `json:"database,omitempty"`
	Schema     string `json:"schema,omitempty"`
	SecretName string `json:"secretName,omitempty"`
}

// LLMProfile carries language-model defaults.
type LLMProfile struct {
	Region          string `json:"region,omitempty"`
	ModelID         string `json:"modelId,omitempty"`
	KnowledgeBaseID string `json:"knowledgeBaseId,omitempty"`
}

// DefaultProfilesPath returns the conventional profile file location
// under the user's configuration directory.
func DefaultProfilesPath() string {
	return filepath.Join(xdg.ConfigHome, "golcloud", "profiles.cue")
}

// LoadProfiles reads a CUE profile file, validates it against the
// embedded schema, and checks its declared version for compatibility.
func LoadProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read profiles %s: %w", path, err)
	}

	cueCtx := cuecontext.New()
	schema := cueCtx.CompileBytes(profilesSchema)
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("config: compile profiles schema: %w", err)
	}
	definition := schema.LookupPath(cue.ParsePath("#Profiles"))
	if err := definition.Err(); err != nil {
		return nil, fmt.Errorf("config: lookup profiles definition: %w", err)
	}

	value := cueCtx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrInvalidProfiles, path, err)
	}

	unified := definition.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("%w: validate %s: %w", ErrInvalidProfiles, path, err)
	}

	var profiles Profiles
	if err := unified.Decode(&profiles); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrInvalidProfiles, path, err)
	}

	compatible, err := versionCompatible(profiles.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProfiles, err)
	}
	if !compatible {
		return nil, fmt.Errorf("%w: version %s is not compatible with %s",
			ErrInvalidProfiles, profiles.Version, ProfilesVersion)
	}
	return &profiles, nil
}

// versionCompatible checks a declared profile version against
// ProfilesVersion using a caret constraint. For 0.x versions this
// allows only patch-level differences.
func versionCompatible(declared string) (bool, error) {
	constraint, err := semver.NewConstraint("^" + ProfilesVersion)
	if err != nil {
		return false, fmt.Errorf("invalid profiles version: %w", err)
	}
	v, err := semver.NewVersion(declared)
	if err != nil {
		return false, fmt.Errorf("invalid declared version %q: %w", declared, err)
	}
	return constraint.Check(v), nil
}
