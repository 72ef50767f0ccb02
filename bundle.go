package roomkit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/cryguy/roomkit/internal/jsapi"
	esbuild "github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"
)

// clientEntry is the entry point of a custom client directory.
const clientEntry = "index.js"

// BundleClientScript uses esbuild to bundle a custom room client's index.js
// with all its imports into one script. The client must install the
// RoomKit namespace on globalThis. Class names are kept because the bridge
// reports prototype chains by constructor name.
func BundleClientScript(dir string) (string, error) {
	entryPoint := filepath.Join(dir, clientEntry)
	if _, err := os.Stat(entryPoint); err != nil {
		return "", fmt.Errorf("reading %s: %w", clientEntry, err)
	}

	result := esbuild.Build(esbuild.BuildOptions{
		EntryPoints:   []string{entryPoint},
		AbsWorkingDir: dir,
		Bundle:        true,
		Format:        esbuild.FormatIIFE,
		Write:         false,
		Platform:      esbuild.PlatformNeutral,
		Target:        esbuild.ES2020,
		KeepNames:     true,
	})

	if len(result.Errors) > 0 {
		var msgs []string
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", fmt.Errorf("bundling %s: %s", clientEntry, strings.Join(msgs, "; "))
	}

	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("bundling produced no output")
	}

	return string(result.OutputFiles[0].Contents), nil
}

// LoadClientScript returns the room client the engine evaluates: the
// built-in client, or the bundle of cfg.ClientDir. Bundles are cached in
// cfg.CacheDir, brotli-compressed and keyed by the hash of the sources.
func LoadClientScript(cfg Config) (string, error) {
	if cfg.ClientDir == "" {
		return jsapi.ClientSource(), nil
	}
	if cfg.CacheDir == "" {
		return BundleClientScript(cfg.ClientDir)
	}

	log := cfg.withDefaults().Logger.Named("bundle")
	key, err := sourceHash(cfg.ClientDir)
	if err != nil {
		return "", err
	}
	cachePath := filepath.Join(cfg.CacheDir, key+".js.br")
	if src, err := readCompressed(cachePath); err == nil {
		log.Debug("client bundle cache hit", zap.String("path", cachePath))
		return src, nil
	}

	src, err := BundleClientScript(cfg.ClientDir)
	if err != nil {
		return "", err
	}
	if err := writeCompressed(cachePath, src); err != nil {
		log.Warn("caching client bundle failed", zap.Error(err))
	}
	return src, nil
}

// sourceHash hashes every .js/.mjs file under dir, in path order.
func sourceHash(dir string) (string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == "node_modules" && path != dir {
			return filepath.SkipDir
		}
		if ext := filepath.Ext(path); !d.IsDir() && (ext == ".js" || ext == ".mjs") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking client sources: %w", err)
	}
	sort.Strings(files)

	h := sha256.New()
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return "", fmt.Errorf("reading client source: %w", err)
		}
		rel, _ := filepath.Rel(dir, f)
		fmt.Fprintf(h, "%s\x00%d\x00", filepath.ToSlash(rel), len(data))
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func readCompressed(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(brotli.NewReader(f))
	if err != nil {
		return "", fmt.Errorf("decompressing %s: %w", path, err)
	}
	return string(data), nil
}

func writeCompressed(path, src string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
	if _, err := io.WriteString(w, src); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
