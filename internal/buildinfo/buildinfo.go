package buildinfo

import (
	"encoding/json"
	"os"

	"emperror.dev/errors"
)

// Version is set by the linker.
//nolint:gochecknoglobals // set by the linker
var Version string

// BuildTime is set by the linker.
//nolint:gochecknoglobals // set by the linker
var BuildTime string

// AppName is set by the linker.
//nolint:gochecknoglobals // set by the linker
var AppName string

// Description is set by the linker.
//nolint:gochecknoglobals // set by the linker
var Description string

// Author is set by the linker.
//nolint:gochecknoglobals // set by the linker
var Author string

const (
	defaultAppName     = "reservation-gateway"
	defaultVersion     = "0.0.0-dev"
	defaultDescription = "Reservation gateway over a message broker"
)

// Info is the package metadata served on /info
type Info struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Author      string `json:"author"`
}

// Linked returns the metadata set by the linker, with defaults for a dev build.
func Linked() Info {
	info := Info{
		Name:        AppName,
		Version:     Version,
		Description: Description,
		Author:      Author,
	}
	if info.Name == "" {
		info.Name = defaultAppName
	}
	if info.Version == "" {
		info.Version = defaultVersion
	}
	if info.Description == "" {
		info.Description = defaultDescription
	}

	return info
}

// Load reads the package metadata file (JSON with name, version, description, author).
// Empty path means the linked metadata.
func Load(path string) (Info, error) {
	if path == "" {
		return Linked(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, errors.WrapWithDetails(err, "unable to read package metadata", "path", path)
	}
	info := Info{}
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, errors.WrapWithDetails(err, "unable to parse package metadata", "path", path)
	}

	return info, nil
}
