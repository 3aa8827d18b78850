// Package ripgrep locates or provisions the rg binary used by the grep
// tool. A missing binary is downloaded once per user cache directory; the
// archive checksum is verified before install.
package ripgrep

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/singleflight"
)

const version = "14.1.1"

// release describes one downloadable build.
type release struct {
	archive string
	sha256  string
}

// releases keys platform to the published archive and its checksum.
var releases = map[string]release{
	"linux/amd64": {
		archive: "ripgrep-" + version + "-x86_64-unknown-linux-musl.tar.gz",
		sha256:  "4cf9f2741e6c465ffdb7c26f38056a59e2a2544b51f7cc128ef28337eeae4d8e",
	},
	"linux/arm64": {
		archive: "ripgrep-" + version + "-aarch64-unknown-linux-gnu.tar.gz",
		sha256:  "c827481c4ff4ea10c9dc7a4022c8de5db34a5737cb74484d62eb94a95841ab2f",
	},
	"darwin/amd64": {
		archive: "ripgrep-" + version + "-x86_64-apple-darwin.tar.gz",
		sha256:  "24ad76777745fbff131c8fbc466742b011f925bfa4fffa2ded6def23b5b937be",
	},
	"darwin/arm64": {
		archive: "ripgrep-" + version + "-aarch64-apple-darwin.tar.gz",
		sha256:  "b8d1fc1dd1b573bc73e2cd9a8c447b241dd3166d078e0b1ecfbcc126c0bad8ab",
	},
}

const downloadBase = "https://github.com/BurntSushi/ripgrep/releases/download/"

// downloads deduplicates concurrent provisioning per cache directory.
var downloads singleflight.Group

// Ensure returns a usable rg path: PATH first, then the cache under
// binDir, downloading into it when absent.
func Ensure(ctx context.Context, binDir string) (string, error) {
	if path, err := exec.LookPath("rg"); err == nil {
		return path, nil
	}

	cached := filepath.Join(binDir, binaryName())
	if _, err := os.Stat(cached); err == nil {
		return cached, nil
	}

	v, err, _ := downloads.Do(binDir, func() (interface{}, error) {
		// Re-check inside the flight; a concurrent caller may have won.
		if _, err := os.Stat(cached); err == nil {
			return cached, nil
		}
		return cached, download(ctx, cached)
	})
	if err != nil {
		return "", fmt.Errorf("ripgrep: provision: %w", err)
	}
	return v.(string), nil
}

func binaryName() string {
	if runtime.GOOS == "windows" {
		return "rg.exe"
	}
	return "rg"
}

func download(ctx context.Context, dest string) error {
	rel, ok := releases[runtime.GOOS+"/"+runtime.GOARCH]
	if !ok {
		return fmt.Errorf("no ripgrep build for %s/%s", runtime.GOOS, runtime.GOARCH)
	}

	url := downloadBase + version + "/" + rel.archive
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}

	sum := sha256.Sum256(body)
	if got := hex.EncodeToString(sum[:]); got != rel.sha256 {
		return fmt.Errorf("checksum mismatch for %s: got %s", rel.archive, got)
	}

	bin, err := extractBinary(body)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	// Write-then-rename so a crashed install never leaves a partial
	// binary at the final path.
	tmp := dest + ".partial"
	if err := os.WriteFile(tmp, bin, 0o755); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

// extractBinary pulls the rg executable out of the release tarball.
func extractBinary(archive []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	want := binaryName()
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag == tar.TypeReg && filepath.Base(hdr.Name) == want {
			return io.ReadAll(io.LimitReader(tr, 64<<20))
		}
	}
	return nil, fmt.Errorf("binary %s not found in archive", want)
}
