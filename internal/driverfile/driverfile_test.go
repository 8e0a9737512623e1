package driverfile

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mysqlCoords = Coordinates{GroupID: "com.mysql", ArtifactID: "mysql-connector-j", Version: "8.0.33"}

func jar(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("META-INF/MANIFEST.MF")
	require.NoError(t, err)
	_, err = f.Write([]byte("Manifest-Version: 1.0\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// repo serves body for every request and counts them.
func repo(t *testing.T, status int, body []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestCoordinates(t *testing.T) {
	assert.Equal(t, "com.mysql:mysql-connector-j:8.0.33", mysqlCoords.String())
	assert.Equal(t, "mysql-connector-j-8.0.33.jar", mysqlCoords.FileName())
	assert.Equal(t, "com/mysql/mysql-connector-j", mysqlCoords.Path())

	assert.Error(t, Coordinates{GroupID: "com.mysql"}.Validate())
	assert.Error(t, Coordinates{GroupID: "..", ArtifactID: "x", Version: "1"}.Validate())
	assert.Error(t, Coordinates{GroupID: "a/b", ArtifactID: "x", Version: "1"}.Validate())
}

func TestDownloadURL(t *testing.T) {
	u, err := DownloadURL("", mysqlCoords)
	require.NoError(t, err)
	assert.Equal(t, "https://repo1.maven.org/maven2/com/mysql/mysql-connector-j/8.0.33/mysql-connector-j-8.0.33.jar", u)

	u, err = DownloadURL("http://mirror.local/maven/", mysqlCoords)
	require.NoError(t, err)
	assert.Equal(t, "http://mirror.local/maven/com/mysql/mysql-connector-j/8.0.33/mysql-connector-j-8.0.33.jar", u)

	for _, bad := range []string{"ftp://mirror", "not a url", "/relative/path", "http://"} {
		_, err := DownloadURL(bad, mysqlCoords)
		assert.ErrorIs(t, err, ErrInvalidURL, bad)
	}
}

func TestMetadataURL(t *testing.T) {
	u, err := MetadataURL("", "org.postgresql", "postgresql")
	require.NoError(t, err)
	assert.Equal(t, "https://repo1.maven.org/maven2/org/postgresql/postgresql/maven-metadata.xml", u)
}

func TestResolveDownloadsOnce(t *testing.T) {
	srv, hits := repo(t, http.StatusOK, jar(t))
	m := NewManager(t.TempDir(), srv.URL)
	ctx := context.Background()

	first, err := m.Resolve(ctx, "mysql", mysqlCoords)
	require.NoError(t, err)
	second, err := m.Resolve(ctx, "mysql", mysqlCoords)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, m.StoragePath("mysql", mysqlCoords), first)
	assert.Equal(t, int32(1), hits.Load())
	assert.FileExists(t, first)
}

func TestResolveSeparatesEngines(t *testing.T) {
	srv, hits := repo(t, http.StatusOK, jar(t))
	m := NewManager(t.TempDir(), srv.URL)

	a, err := m.Resolve(context.Background(), "mysql", mysqlCoords)
	require.NoError(t, err)
	b, err := m.Resolve(context.Background(), "mariadb", mysqlCoords)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Equal(t, int32(2), hits.Load())
}

func TestResolveTruncatedArchive(t *testing.T) {
	valid := jar(t)
	srv, _ := repo(t, http.StatusOK, valid[:len(valid)/2])
	dir := t.TempDir()
	m := NewManager(dir, srv.URL)

	_, err := m.Resolve(context.Background(), "mysql", mysqlCoords)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArchive)

	var dlErr *DownloadError
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, "validate", dlErr.Op)

	assert.NoFileExists(t, m.StoragePath("mysql", mysqlCoords))
	assertNoPartials(t, m)
}

func TestResolveHTMLErrorPage(t *testing.T) {
	srv, _ := repo(t, http.StatusOK, []byte("<html><body>blocked</body></html>"))
	m := NewManager(t.TempDir(), srv.URL)

	_, err := m.Resolve(context.Background(), "mysql", mysqlCoords)
	assert.ErrorIs(t, err, ErrInvalidArchive)
	assert.NoFileExists(t, m.StoragePath("mysql", mysqlCoords))
}

func TestResolveNotFound(t *testing.T) {
	srv, _ := repo(t, http.StatusNotFound, []byte("missing"))
	m := NewManager(t.TempDir(), srv.URL)

	_, err := m.Resolve(context.Background(), "mysql", mysqlCoords)
	var dlErr *DownloadError
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, "download", dlErr.Op)
	assert.Contains(t, err.Error(), "404")
	assert.NoFileExists(t, m.StoragePath("mysql", mysqlCoords))
	assertNoPartials(t, m)
}

func TestResolveRetryAfterFailure(t *testing.T) {
	good := jar(t)
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.Write([]byte("garbage"))
			return
		}
		w.Write(good)
	}))
	defer srv.Close()
	m := NewManager(t.TempDir(), srv.URL)

	_, err := m.Resolve(context.Background(), "mysql", mysqlCoords)
	require.Error(t, err)

	fail.Store(false)
	path, err := m.Resolve(context.Background(), "mysql", mysqlCoords)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestResolveRejectsBadInput(t *testing.T) {
	m := NewManager(t.TempDir(), "ftp://nowhere")

	_, err := m.Resolve(context.Background(), "", mysqlCoords)
	assert.Error(t, err)
	_, err = m.Resolve(context.Background(), "mysql", Coordinates{})
	assert.Error(t, err)
	_, err = m.Resolve(context.Background(), "mysql", mysqlCoords)
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestResolverConcurrentDownloadsOnce(t *testing.T) {
	body := jar(t)
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write(body)
	}))
	defer srv.Close()

	r := NewResolver(NewManager(t.TempDir(), srv.URL))
	var wg sync.WaitGroup
	paths := make([]string, 8)
	errs := make([]error, 8)
	for i := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			paths[i], errs[i] = r.Resolve(context.Background(), "mysql", mysqlCoords)
		}()
	}
	// Let the goroutines pile up on the in-flight download, then finish it.
	for hits.Load() == 0 {
		runtime.Gosched()
	}
	close(release)
	wg.Wait()

	for i := range paths {
		require.NoError(t, errs[i])
		assert.Equal(t, paths[0], paths[i])
	}
	assert.Equal(t, int32(1), hits.Load())
	assert.FileExists(t, paths[0])

	// Everything later is a cache hit.
	before := hits.Load()
	_, err := r.Resolve(context.Background(), "mysql", mysqlCoords)
	require.NoError(t, err)
	assert.Equal(t, before, hits.Load())
}

func TestResolverCallerCancelDoesNotFailOthers(t *testing.T) {
	body := jar(t)
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write(body)
	}))
	defer srv.Close()
	r := NewResolver(NewManager(t.TempDir(), srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, "mysql", mysqlCoords)
		firstErr <- err
	}()
	for hits.Load() == 0 {
		runtime.Gosched()
	}

	type outcome struct {
		path string
		err  error
	}
	second := make(chan outcome, 1)
	go func() {
		path, err := r.Resolve(context.Background(), "mysql", mysqlCoords)
		second <- outcome{path, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.FileExists(t, got.path)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCatalog(t *testing.T) {
	c := DefaultCatalog()
	coords, ok := c.Lookup("MySQL")
	require.True(t, ok)
	assert.Equal(t, "com.mysql:mysql-connector-j:8.0.33", coords.String())

	_, ok = c.Lookup("oracle")
	assert.False(t, ok)

	custom, err := LoadCatalog(strings.NewReader(`
drivers:
  Oracle:
    group_id: com.oracle.database.jdbc
    artifact_id: ojdbc11
    version: 23.5.0.24.07
`))
	require.NoError(t, err)
	coords, ok = custom.Lookup("oracle")
	require.True(t, ok)
	assert.Equal(t, "ojdbc11", coords.ArtifactID)

	_, err = LoadCatalog(strings.NewReader("drivers:\n  mysql:\n    group_id: com.mysql\n"))
	assert.Error(t, err)
	_, err = LoadCatalog(strings.NewReader("drivers:\n  mysql:\n    group: com.mysql\n"))
	assert.Error(t, err)
}

func TestLatestVersion(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"release", `<metadata><versioning><latest>9.1.0</latest><release>9.0.0</release></versioning></metadata>`, "9.0.0"},
		{"latest", `<metadata><versioning><latest>9.1.0</latest></versioning></metadata>`, "9.1.0"},
		{"versions", `<metadata><versioning><versions><version>8.0.33</version><version>8.4.0</version></versions></versioning></metadata>`, "8.4.0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/com/mysql/mysql-connector-j/maven-metadata.xml" {
					http.NotFound(w, r)
					return
				}
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			got, err := LatestVersion(context.Background(), srv.Client(), srv.URL, "com.mysql", "mysql-connector-j")
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	srv, _ := repo(t, http.StatusOK, []byte(`<metadata/>`))
	_, err := LatestVersion(context.Background(), nil, srv.URL, "com.mysql", "mysql-connector-j")
	var dlErr *DownloadError
	assert.ErrorAs(t, err, &dlErr)
}

func assertNoPartials(t *testing.T, m *Manager) {
	t.Helper()
	dir := m.StoragePath("mysql", mysqlCoords)
	entries, err := os.ReadDir(dir[:strings.LastIndex(dir, string(os.PathSeparator))])
	if err != nil {
		return
	}
	assert.Empty(t, entries)
}
