package driverfile

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// DefaultRepository is the Maven Central mirror used when none is configured.
const DefaultRepository = "https://repo1.maven.org/maven2"

// ErrInvalidURL reports a repository base URL that cannot be used for downloads.
var ErrInvalidURL = errors.New("invalid repository url")

// Coordinates identify a driver artifact in a Maven-style repository.
type Coordinates struct {
	GroupID    string `yaml:"group_id"`
	ArtifactID string `yaml:"artifact_id"`
	Version    string `yaml:"version"`
}

// String returns groupId:artifactId:version.
func (c Coordinates) String() string {
	return c.GroupID + ":" + c.ArtifactID + ":" + c.Version
}

// FileName is the jar name, artifactId-version.jar.
func (c Coordinates) FileName() string {
	return c.ArtifactID + "-" + c.Version + ".jar"
}

// Path is the repository-relative directory of the artifact, without the version.
func (c Coordinates) Path() string {
	return path.Join(strings.ReplaceAll(c.GroupID, ".", "/"), c.ArtifactID)
}

// Validate rejects empty fields and anything that could escape the storage directory.
func (c Coordinates) Validate() error {
	fields := []struct{ name, value string }{
		{"group id", c.GroupID},
		{"artifact id", c.ArtifactID},
		{"version", c.Version},
	}
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
			continue
		}
		if strings.ContainsAny(f.value, `/\:`) || strings.Contains(f.value, "..") {
			return fmt.Errorf("invalid coordinates %q: %s contains a path separator", c.String(), f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid coordinates %q: missing %v", c.String(), missing)
	}
	return nil
}

// DownloadURL is {repo}/{groupPath}/{artifactId}/{version}/{artifactId}-{version}.jar.
func DownloadURL(repo string, c Coordinates) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	base, err := repositoryURL(repo)
	if err != nil {
		return "", err
	}
	return base.JoinPath(c.Path(), c.Version, c.FileName()).String(), nil
}

// MetadataURL is {repo}/{groupPath}/{artifactId}/maven-metadata.xml.
func MetadataURL(repo, groupID, artifactID string) (string, error) {
	c := Coordinates{GroupID: groupID, ArtifactID: artifactID, Version: "metadata"}
	if err := c.Validate(); err != nil {
		return "", err
	}
	base, err := repositoryURL(repo)
	if err != nil {
		return "", err
	}
	return base.JoinPath(c.Path(), "maven-metadata.xml").String(), nil
}

func repositoryURL(repo string) (*url.URL, error) {
	if repo == "" {
		repo = DefaultRepository
	}
	u, err := url.Parse(repo)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidURL, repo, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w %q: want an absolute http(s) url", ErrInvalidURL, repo)
	}
	return u, nil
}
