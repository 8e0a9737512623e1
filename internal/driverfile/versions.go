package driverfile

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
)

type mavenMetadata struct {
	Versioning struct {
		Latest   string   `xml:"latest"`
		Release  string   `xml:"release"`
		Versions []string `xml:"versions>version"`
	} `xml:"versioning"`
}

// LatestVersion reads maven-metadata.xml for groupID:artifactID and returns the release
// version, falling back to latest and then to the last listed version.
func LatestVersion(ctx context.Context, client *http.Client, repo, groupID, artifactID string) (string, error) {
	src, err := MetadataURL(repo, groupID, artifactID)
	if err != nil {
		return "", err
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", &DownloadError{Op: "metadata", URL: src, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &DownloadError{Op: "metadata", URL: src, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	var md mavenMetadata
	if err := xml.NewDecoder(resp.Body).Decode(&md); err != nil {
		return "", &DownloadError{Op: "metadata", URL: src, Err: err}
	}
	switch v := md.Versioning; {
	case v.Release != "":
		return v.Release, nil
	case v.Latest != "":
		return v.Latest, nil
	case len(v.Versions) > 0:
		return v.Versions[len(v.Versions)-1], nil
	}
	return "", &DownloadError{Op: "metadata", URL: src, Err: errors.New("no versions listed")}
}
